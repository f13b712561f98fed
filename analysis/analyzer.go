// Copyright 2018 MPI-SWS, Valentin Wuestholz, and ConsenSys AG

// This file is part of evm-cfg-builder.
//
// evm-cfg-builder is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// evm-cfg-builder is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with evm-cfg-builder.  If not, see <https://www.gnu.org/licenses/>.


package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/pbwaffles/evm-cfg-builder/cfg"
)

// Entry names one function to analyze: its entry block and its key.
type Entry struct {
	PC  uint64
	Key cfg.FunctionKey
}

func (e Entry) String() string {
	return fmt.Sprintf("%#x/%v", e.PC, e.Key)
}

type Stats struct {
	NumAnalyses  uint64
	NumCached    uint64
	NumTruncated uint64
	Time         time.Duration
}

// Analyzer runs stack value analyses and caches their results by code
// hash, entry and key. A cached result is replayed into every other graph
// it is requested for, so each graph carries the edges of its results.
type Analyzer struct {
	conf        Config
	parallelism int

	mu    sync.Mutex
	cache map[string]*cacheEntry
	stats Stats
}

type cacheEntry struct {
	res    *Result
	graphs map[*cfg.CFG]bool
}

func NewAnalyzer(conf Config, parallelism int) *Analyzer {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Analyzer{
		conf:        conf,
		parallelism: parallelism,
		cache:       map[string]*cacheEntry{},
	}
}

func cacheKey(graph *cfg.CFG, entry uint64, key cfg.FunctionKey) string {
	return fmt.Sprintf("%x:%x:%v", graph.CodeHash(), entry, key)
}

// Analyze analyzes the function key entered at entry. The dispatcher
// additionally gets its compared selectors collected.
func (a *Analyzer) Analyze(graph *cfg.CFG, entry uint64, key cfg.FunctionKey) (*Result, error) {
	ck := cacheKey(graph, entry, key)
	a.mu.Lock()
	if ce, ok := a.cache[ck]; ok {
		defer a.mu.Unlock()
		if !ce.graphs[graph] {
			if err := ce.res.Replay(graph); err != nil {
				return nil, err
			}
			ce.graphs[graph] = true
		}
		a.stats.NumCached++
		return ce.res, nil
	}
	a.mu.Unlock()

	start := time.Now()
	sva, err := NewStackValueAnalysis(graph, entry, key, a.conf)
	if err != nil {
		return nil, err
	}
	var collector *selectorCollector
	if key == cfg.Dispatcher {
		collector = newSelectorCollector(graph)
		sva.SetStub(collector.stub)
	}
	res, err := sva.Analyze()
	if err != nil {
		return nil, err
	}
	if collector != nil {
		res.Selectors = collector.Selectors()
	}
	elapsed := time.Since(start)
	log.Info().
		Str("key", key.String()).
		Uint64("entry", entry).
		Int("explored", len(res.Explored)).
		Int("edges", len(res.Edges)).
		Dur("elapsed", elapsed).
		Msg("Function analyzed")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[ck] = &cacheEntry{res: res, graphs: map[*cfg.CFG]bool{graph: true}}
	a.stats.NumAnalyses++
	if len(res.Truncated) > 0 || res.IterationBoundHit {
		a.stats.NumTruncated++
	}
	a.stats.Time += elapsed
	return res, nil
}

// AnalyzeAll analyzes entries concurrently and returns their results in
// the same order. Entries must use distinct keys.
func (a *Analyzer) AnalyzeAll(ctx context.Context, graph *cfg.CFG, entries []Entry) ([]*Result, error) {
	entries = lo.Uniq(entries)
	results := make([]*Result, len(entries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := a.Analyze(graph, e.PC, e.Key)
			if err != nil {
				return errors.Wrapf(err, "analyze %v", e)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats := a.Stats()
	log.Info().
		Int("functions", len(entries)).
		Uint64("analyses", stats.NumAnalyses).
		Uint64("cached", stats.NumCached).
		Uint64("truncated", stats.NumTruncated).
		Dur("elapsed", stats.Time).
		Msg("CFG recovery finished")
	return results, nil
}

func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
