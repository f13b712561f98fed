// Copyright 2022 The evm-cfg-builder Authors

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


package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/pbwaffles/evm-cfg-builder/analysis"
	"github.com/pbwaffles/evm-cfg-builder/cfg"
)

func hexList(pcs []uint64) string {
	return strings.Join(lo.Map(pcs, func(pc uint64, _ int) string {
		return fmt.Sprintf("%#x", pc)
	}), " ")
}

func printReport(w io.Writer, graph *cfg.CFG, results []*analysis.Result) {
	fmt.Fprintf(w, "code hash: %s\n", graph.CodeHash().Hex())
	fmt.Fprintf(w, "instructions: %d, basic blocks: %d\n", len(graph.Instructions()), len(graph.BasicBlocks()))
	for _, res := range results {
		printResult(w, graph, res)
	}
}

func printResult(w io.Writer, graph *cfg.CFG, res *analysis.Result) {
	fmt.Fprintf(w, "\nfunction %v (entry %#x): %d reachable blocks, %d passes\n",
		res.Key, res.Entry, len(res.Reachable), res.Iterations)
	if res.IterationBoundHit || len(res.Truncated) > 0 {
		fmt.Fprintf(w, "warning: analysis truncated, blocks at bound: %s\n", hexList(res.Truncated))
	}

	blocks := tablewriter.NewWriter(w)
	blocks.SetHeader([]string{"Block", "End", "Successors"})
	for _, pc := range res.Reachable {
		bb := graph.BasicBlockStartingAt(pc)
		succs := lo.Map(bb.Outgoing(res.Key), func(s *cfg.BasicBlock, _ int) uint64 {
			return s.Start().PC
		})
		blocks.Append([]string{
			fmt.Sprintf("%#x", pc),
			fmt.Sprintf("%#x %s", bb.End().PC, bb.End().Name),
			hexList(succs),
		})
	}
	blocks.Render()

	branches := lo.Keys(res.BranchTargets)
	slices.Sort(branches)
	if len(branches) > 0 {
		targets := tablewriter.NewWriter(w)
		targets.SetHeader([]string{"Branch", "Candidates", "Destinations"})
		for _, src := range branches {
			targets.Append([]string{
				fmt.Sprintf("%#x", src),
				res.BranchTargets[src].String(),
				hexList(res.Edges[src]),
			})
		}
		targets.Render()
	}

	if len(res.Selectors) > 0 {
		sels := tablewriter.NewWriter(w)
		sels.SetHeader([]string{"Selector"})
		for _, s := range res.Selectors {
			sels.Append([]string{fmt.Sprintf("0x%08x", s)})
		}
		sels.Render()
	}
}
