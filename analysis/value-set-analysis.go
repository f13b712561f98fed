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
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/pbwaffles/evm-cfg-builder/cfg"
)

const (
	DefaultMaxIteration   = 1000
	DefaultMaxExploration = 100
)

var ErrEntryNotFound = errors.New("entry point is not the start of a basic block")

// Config bounds one analysis run.
type Config struct {
	// MaxIteration bounds the number of outer exploration passes.
	MaxIteration int
	// MaxExploration bounds how often a single block is evaluated.
	MaxExploration int
	// MaxValues is the candidate set bound of unrestricted domains.
	MaxValues int
	// RestrictDestinations keeps only JUMPDEST addresses in candidate sets.
	RestrictDestinations bool
}

func DefaultConfig() Config {
	return Config{
		MaxIteration:         DefaultMaxIteration,
		MaxExploration:       DefaultMaxExploration,
		MaxValues:            DefaultMaxValues,
		RestrictDestinations: true,
	}
}

// Result is what one analysis run leaves behind besides the edges it adds
// to the block graph.
type Result struct {
	Entry uint64
	Key   cfg.FunctionKey

	// Explored lists block start addresses in first-visit order.
	Explored []uint64
	// Edges maps each JUMP/JUMPI address to its resolved destinations.
	Edges map[uint64][]uint64
	// BranchTargets holds the top of stack seen right before each branch.
	BranchTargets map[uint64]AbsValue
	// Stacks holds the published output stack of each block by end address.
	Stacks map[uint64]*AbsStack
	// Reachable lists the block start addresses reachable from Entry.
	Reachable []uint64

	Iterations        int
	IterationBoundHit bool
	// Truncated lists blocks that hit the exploration bound.
	Truncated []uint64
	// Selectors holds the function selectors compared in the dispatcher.
	Selectors []uint32
}

// StackValueAnalysis recovers the branch edges of one function of a CFG.
type StackValueAnalysis struct {
	graph *cfg.CFG
	entry *cfg.BasicBlock
	key   cfg.FunctionKey
	conf  Config

	dom       *Domain
	initStack *AbsStack
	eval      blockEvaluator
	st        *analysisState

	truncated map[uint64]bool
	logger    zerolog.Logger
}

func NewStackValueAnalysis(graph *cfg.CFG, entry uint64, key cfg.FunctionKey, conf Config) (*StackValueAnalysis, error) {
	bb := graph.BasicBlockStartingAt(entry)
	if bb == nil {
		return nil, errors.Wrapf(ErrEntryNotFound, "entry %#x", entry)
	}
	if conf.MaxIteration <= 0 {
		conf.MaxIteration = DefaultMaxIteration
	}
	if conf.MaxExploration <= 0 {
		conf.MaxExploration = DefaultMaxExploration
	}
	if conf.MaxValues <= 0 {
		conf.MaxValues = DefaultMaxValues
	}
	var dom *Domain
	if conf.RestrictDestinations {
		dom = NewRestrictedDomain(graph.ValidJumpDests())
	} else {
		dom = NewDomain(conf.MaxValues)
	}
	return &StackValueAnalysis{
		graph:     graph,
		entry:     bb,
		key:       key,
		conf:      conf,
		dom:       dom,
		eval:      blockEvaluator{jt: newAbsJumpTable()},
		truncated: map[uint64]bool{},
		logger:    log.With().Str("key", key.String()).Uint64("entry", entry).Logger(),
	}, nil
}

func (a *StackValueAnalysis) Domain() *Domain {
	return a.dom
}

// SetInitStack sets the input stack of the entry block on the first pass.
func (a *StackValueAnalysis) SetInitStack(s *AbsStack) {
	a.initStack = s
}

func (a *StackValueAnalysis) SetStub(stub Stub) {
	a.eval.stub = stub
}

// Analyze runs the analysis to its fixed point or until a bound is hit.
// It adds the discovered edges under the analysis key to the CFG.
func (a *StackValueAnalysis) Analyze() (*Result, error) {
	release, err := a.graph.Acquire(a.key)
	if err != nil {
		return nil, err
	}
	defer release()

	a.st = newAnalysisState(a.entry)
	a.graph.ComputeSimpleEdges(a.key)

	iterations := 0
	first := true
	for a.st.toExplore.len() > 0 {
		if iterations >= a.conf.MaxIteration {
			a.logger.Debug().Int("pending", a.st.toExplore.len()).Msg("iteration bound hit")
			break
		}
		iterations++
		a.explore(first)
		first = false
	}

	reachable := a.graph.ComputeReachability(a.entry.Start().PC, a.key)
	slices.Sort(reachable)
	res := a.result(reachable, iterations)
	a.logger.Debug().
		Int("iterations", iterations).
		Int("explored", len(res.Explored)).
		Int("reachable", len(reachable)).
		Msg("stack value analysis done")
	return res, nil
}

// explore runs one pass: the inner worklist goes to local quiescence, then
// the branches found during the pass become edges.
func (a *StackValueAnalysis) explore(first bool) {
	a.st.worklist.push(a.st.toExplore.pop())
	for a.st.worklist.len() > 0 {
		bb := a.st.worklist.pop()
		a.transferBlock(bb, first && bb == a.entry)
	}

	last := a.st.takeLastDiscovered()
	a.logger.Debug().Int("new", len(last)).Msg("pass converged")
	srcs := maps.Keys(last)
	slices.Sort(srcs)
	for _, src := range srcs {
		from := a.graph.BasicBlockAt(src)
		dsts := last[src].ToSlice()
		slices.Sort(dsts)
		for _, dst := range dsts {
			to := a.graph.BasicBlockStartingAt(dst)
			a.logger.Debug().Uint64("from", src).Uint64("to", dst).Msg("edge discovered")
			cfg.Link(from, to, a.key)
			a.st.toExplore.push(to)
		}
	}
}

func (a *StackValueAnalysis) transferBlock(bb *cfg.BasicBlock, useInit bool) {
	if a.key == cfg.Dispatcher && bb.Reachable(cfg.Dispatcher) {
		return
	}
	start, end := bb.Start().PC, bb.End()

	a.st.bbCounter[start]++
	if a.st.bbCounter[start] > a.conf.MaxExploration {
		if !a.truncated[start] {
			a.logger.Debug().Uint64("block", start).Int("counter", a.st.bbCounter[start]).Msg("exploration bound hit")
			a.truncated[start] = true
		}
		return
	}

	prev, hadPrev := a.st.stacksOut[end.PC]

	// Predecessors without an output stack yet are left out of the merge,
	// so their contribution only shows up once they get analyzed and this
	// block is queued again.
	var stacks []*AbsStack
	for _, pred := range bb.Incoming(a.key) {
		if out, ok := a.st.stacksOut[pred.End().PC]; ok {
			stacks = append(stacks, out)
		}
	}
	var stack *AbsStack
	switch {
	case len(stacks) > 0:
		stack = MergeStacks(a.dom, stacks)
	case useInit && a.initStack != nil:
		stack = a.initStack.clone()
	default:
		stack = a.dom.NewStack()
	}

	if target, ok := a.eval.exploreBlock(a.st, bb, stack); ok && !target.IsUnknown() {
		a.st.addBranches(end.PC, a.destinations(target))
	}

	if !hadPrev || !prev.Equal(a.st.stacksOut[end.PC]) {
		a.st.worklist.push(bb.Outgoing(a.key)...)
	}
}

// destinations keeps the candidates that address a JUMPDEST.
func (a *StackValueAnalysis) destinations(target AbsValue) []uint64 {
	var dsts []uint64
	for _, c := range target.Candidates() {
		if !c.IsUint64() {
			continue
		}
		pc := c.Uint64()
		if ins := a.graph.InstructionAt(pc); ins != nil && ins.IsJumpDest() {
			dsts = append(dsts, pc)
		}
	}
	return dsts
}

func (a *StackValueAnalysis) result(reachable []uint64, iterations int) *Result {
	res := &Result{
		Entry:             a.entry.Start().PC,
		Key:               a.key,
		Explored:          slices.Clone(a.st.explored),
		Edges:             map[uint64][]uint64{},
		BranchTargets:     maps.Clone(a.st.lastInsTopValue),
		Stacks:            maps.Clone(a.st.stacksOut),
		Reachable:         reachable,
		Iterations:        iterations,
		IterationBoundHit: a.st.toExplore.len() > 0,
	}
	for src, dsts := range a.st.allDiscoveredTargets {
		sorted := dsts.ToSlice()
		slices.Sort(sorted)
		res.Edges[src] = sorted
	}
	res.Truncated = maps.Keys(a.truncated)
	slices.Sort(res.Truncated)
	return res
}

// Replay adds the edges of r to graph, which must hold the same code, and
// marks the blocks reachable from r.Entry under r.Key.
func (r *Result) Replay(graph *cfg.CFG) error {
	if graph.BasicBlockStartingAt(r.Entry) == nil {
		return errors.Wrapf(ErrEntryNotFound, "entry %#x", r.Entry)
	}
	release, err := graph.Acquire(r.Key)
	if err != nil {
		return err
	}
	defer release()

	graph.ComputeSimpleEdges(r.Key)
	for src, dsts := range r.Edges {
		from := graph.BasicBlockAt(src)
		if from == nil {
			return errors.Errorf("no block at %#x", src)
		}
		for _, dst := range dsts {
			to := graph.BasicBlockStartingAt(dst)
			if to == nil {
				return errors.Errorf("no block starting at %#x", dst)
			}
			cfg.Link(from, to, r.Key)
		}
	}
	graph.ComputeReachability(r.Entry, r.Key)
	return nil
}
