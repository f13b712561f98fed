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


package analysis_test

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pbwaffles/evm-cfg-builder/analysis"
	"github.com/pbwaffles/evm-cfg-builder/cfg"
	"github.com/pbwaffles/evm-cfg-builder/vm"
)

const (
	// 0x00 PUSH1 0x05; 0x02 JUMP; 0x03 STOP; 0x04 STOP; 0x05 JUMPDEST; 0x06 STOP
	directJump = "0x6005560000" + "5b00"
	// 0x00 PUSH1 0xff; 0x02 PUSH1 0x0f; 0x04 AND; 0x05 JUMPI; 0x06..0x0e STOP;
	// 0x0f JUMPDEST; 0x10 STOP
	maskedJump = "0x60ff600f1657" + "000000000000000000" + "5b00"
	// 0x00 CALLVALUE; 0x01 PUSH1 0x09; 0x03 JUMPI
	// 0x04 PUSH1 0x10; 0x06 PUSH1 0x30; 0x08 JUMP
	// 0x09 JUMPDEST; 0x0a PUSH1 0x20; 0x0c PUSH1 0x30; 0x0e JUMP
	// 0x0f STOP; 0x10 JUMPDEST; 0x11 STOP; 0x20 JUMPDEST; 0x21 STOP
	// 0x30 JUMPDEST; 0x31 JUMP
	twoPredecessors = "0x34600957" + "6010603056" + "5b6020603056" + "00" +
		"5b00" + "0000000000000000000000000000" +
		"5b00" + "0000000000000000000000000000" +
		"5b56"
	// 0x00 PUSH1 0x04; 0x02 JUMP; 0x03 STOP; 0x04 STOP
	jumpIntoCode = "0x6004560000"
	// 0x00 JUMPDEST; 0x01 PUSH1 0x00; 0x03 JUMP
	selfLoop = "0x5b600056"
	// 0x00 JUMPDEST; 0x01 PUSH1 0x00; 0x03 PUSH1 0x00; 0x05 JUMP
	growingLoop = "0x5b6000600056"
	// 0x00 JUMP; 0x01..0x04 STOP; 0x05 JUMPDEST; 0x06 STOP
	jumpFromInitStack = "0x5600000000" + "5b00"
	// 0x00 CALLVALUE; 0x01 JUMP; 0x02..0x04 STOP; 0x05 JUMPDEST; 0x06 STOP
	jumpFromCallValue = "0x3456000000" + "5b00"
)

func newGraph(code string) *cfg.CFG {
	graph, err := cfg.New(common.FromHex(code))
	Expect(err).NotTo(HaveOccurred())
	return graph
}

func analyze(graph *cfg.CFG, key cfg.FunctionKey, conf analysis.Config) *analysis.Result {
	sva, err := analysis.NewStackValueAnalysis(graph, 0, key, conf)
	Expect(err).NotTo(HaveOccurred())
	res, err := sva.Analyze()
	Expect(err).NotTo(HaveOccurred())
	return res
}

func candidates(v analysis.AbsValue) []uint64 {
	var xs []uint64
	for _, c := range v.Candidates() {
		xs = append(xs, c.Uint64())
	}
	return xs
}

func starts(blocks []*cfg.BasicBlock) []uint64 {
	pcs := make([]uint64, len(blocks))
	for i, bb := range blocks {
		pcs[i] = bb.Start().PC
	}
	return pcs
}

func unrestricted() analysis.Config {
	conf := analysis.DefaultConfig()
	conf.RestrictDestinations = false
	return conf
}

var _ = Describe("StackValueAnalysis", func() {
	Context("branch resolution", func() {
		It("should resolve a constant jump", func() {
			graph := newGraph(directJump)
			res := analyze(graph, 1, analysis.DefaultConfig())

			Expect(res.Edges).To(Equal(map[uint64][]uint64{0x02: {0x05}}))
			Expect(res.Reachable).To(Equal([]uint64{0x00, 0x05}))
			Expect(graph.BasicBlockStartingAt(0x05).Reachable(1)).To(BeTrue())
			Expect(graph.BasicBlockStartingAt(0x03).Reachable(1)).To(BeFalse())

			Expect(graph.BasicBlockStartingAt(0x00).Outgoing(1)).To(HaveLen(1))
			Expect(graph.BasicBlockStartingAt(0x05).Incoming(1)[0].Start().PC).To(Equal(uint64(0x00)))
		})

		It("should model AND exactly", func() {
			graph := newGraph(maskedJump)
			res := analyze(graph, 1, unrestricted())

			Expect(candidates(res.BranchTargets[0x05])).To(Equal([]uint64{0x0f}))
			Expect(res.Edges[0x05]).To(Equal([]uint64{0x0f}))
			Expect(res.Reachable).To(ContainElements(uint64(0x06), uint64(0x0f)))
		})

		It("should merge the stacks of all analyzed predecessors", func() {
			graph := newGraph(twoPredecessors)
			res := analyze(graph, 1, analysis.DefaultConfig())

			Expect(candidates(res.BranchTargets[0x31])).To(Equal([]uint64{0x10, 0x20}))
			Expect(res.Edges[0x31]).To(Equal([]uint64{0x10, 0x20}))
			Expect(res.Edges[0x03]).To(Equal([]uint64{0x09}))
			Expect(res.Reachable).To(Equal([]uint64{0x00, 0x04, 0x09, 0x10, 0x20, 0x30}))

			merge := graph.BasicBlockStartingAt(0x30)
			Expect(merge.Incoming(1)).To(HaveLen(2))
			Expect(merge.Outgoing(1)).To(HaveLen(2))
		})

		It("should drop targets that are not JUMPDESTs", func() {
			graph := newGraph(jumpIntoCode)
			res := analyze(graph, 1, unrestricted())

			Expect(candidates(res.BranchTargets[0x02])).To(Equal([]uint64{0x04}))
			Expect(res.Edges).To(BeEmpty())
			Expect(res.Reachable).To(Equal([]uint64{0x00}))
			Expect(graph.BasicBlockStartingAt(0x00).Outgoing(1)).To(BeEmpty())
		})

		It("should leave unknown targets unresolved", func() {
			graph := newGraph(jumpFromCallValue)
			res := analyze(graph, 1, analysis.DefaultConfig())

			Expect(res.BranchTargets[0x01].IsUnknown()).To(BeTrue())
			Expect(res.Edges).To(BeEmpty())
		})
	})

	Context("inputs", func() {
		It("should start the entry block from the initial stack", func() {
			graph := newGraph(jumpFromInitStack)
			sva, err := analysis.NewStackValueAnalysis(graph, 0, 1, analysis.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			initStack := sva.Domain().NewStack()
			initStack.PushValue(sva.Domain().SingletonUint64(0x05))
			sva.SetInitStack(initStack)

			res, err := sva.Analyze()
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Edges).To(Equal(map[uint64][]uint64{0x00: {0x05}}))
			Expect(initStack.Depth()).To(Equal(1))
		})

		It("should let a stub override instructions", func() {
			graph := newGraph(jumpFromCallValue)
			sva, err := analysis.NewStackValueAnalysis(graph, 0, 1, analysis.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			dom := sva.Domain()
			sva.SetStub(func(ins vm.Instruction, stack *analysis.AbsStack) (bool, *analysis.AbsStack) {
				if ins.Name != "CALLVALUE" {
					return false, nil
				}
				stack.PushValue(dom.SingletonUint64(0x05))
				return true, stack
			})

			res, err := sva.Analyze()
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Edges).To(Equal(map[uint64][]uint64{0x01: {0x05}}))
		})

		It("should reject entries that do not start a block", func() {
			graph := newGraph(directJump)
			_, err := analysis.NewStackValueAnalysis(graph, 0x01, 1, analysis.DefaultConfig())
			Expect(errors.Is(err, analysis.ErrEntryNotFound)).To(BeTrue())
		})

		It("should refuse a key owned by another analysis", func() {
			graph := newGraph(directJump)
			release, err := graph.Acquire(5)
			Expect(err).NotTo(HaveOccurred())
			defer release()

			sva, err := analysis.NewStackValueAnalysis(graph, 0, 5, analysis.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			_, err = sva.Analyze()
			Expect(errors.Is(err, cfg.ErrKeyInUse)).To(BeTrue())
		})
	})

	Context("termination", func() {
		It("should converge on a stable loop", func() {
			graph := newGraph(selfLoop)
			res := analyze(graph, 1, analysis.DefaultConfig())

			Expect(res.Edges).To(Equal(map[uint64][]uint64{0x03: {0x00}}))
			Expect(res.Truncated).To(BeEmpty())
			Expect(res.IterationBoundHit).To(BeFalse())
		})

		It("should stop re-exploring a block at the exploration bound", func() {
			graph := newGraph(growingLoop)
			conf := analysis.DefaultConfig()
			conf.MaxExploration = 5
			res := analyze(graph, 1, conf)

			Expect(res.Edges).To(Equal(map[uint64][]uint64{0x05: {0x00}}))
			Expect(res.Truncated).To(Equal([]uint64{0x00}))
			Expect(res.Stacks[0x05].Depth()).To(Equal(5))
		})

		It("should stop at the iteration bound", func() {
			graph := newGraph(twoPredecessors)
			conf := analysis.DefaultConfig()
			conf.MaxIteration = 1
			res := analyze(graph, 1, conf)

			Expect(res.Iterations).To(Equal(1))
			Expect(res.IterationBoundHit).To(BeTrue())
			Expect(res.Edges).NotTo(HaveKey(uint64(0x31)))
		})

		It("should reach the same result when run again", func() {
			graph := newGraph(twoPredecessors)
			first := analyze(graph, 1, analysis.DefaultConfig())
			second := analyze(graph, 1, analysis.DefaultConfig())

			Expect(second.Edges).To(Equal(first.Edges))
			Expect(second.Reachable).To(Equal(first.Reachable))
			Expect(graph.BasicBlockStartingAt(0x30).Outgoing(1)).To(HaveLen(2))
		})

		It("should not re-explore blocks the dispatcher already reached", func() {
			graph := newGraph(twoPredecessors)
			first := analyze(graph, cfg.Dispatcher, analysis.DefaultConfig())
			second := analyze(graph, cfg.Dispatcher, analysis.DefaultConfig())

			Expect(first.Explored).NotTo(BeEmpty())
			Expect(second.Explored).To(BeEmpty())
			Expect(second.Reachable).To(Equal(first.Reachable))
		})
	})
})

var _ = Describe("Analyzer", func() {
	// 0x00 PUSH1 0x00; 0x02 CALLDATALOAD; 0x03 PUSH1 0xe0; 0x05 SHR; 0x06 DUP1;
	// 0x07 PUSH4 0xa9059cbb; 0x0c EQ; 0x0d PUSH1 0x11; 0x0f JUMPI; 0x10 STOP;
	// 0x11 JUMPDEST; 0x12 STOP
	dispatcher := "0x60003560e01c8063a9059cbb14601157005b00"

	It("should collect the selectors compared by the dispatcher", func() {
		graph := newGraph(dispatcher)
		a := analysis.NewAnalyzer(analysis.DefaultConfig(), 1)
		res, err := a.Analyze(graph, 0, cfg.Dispatcher)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Selectors).To(Equal([]uint32{0xa9059cbb}))
		Expect(res.Edges[0x0f]).To(Equal([]uint64{0x11}))
		Expect(res.Reachable).To(Equal([]uint64{0x00, 0x10, 0x11}))
	})

	It("should not collect selectors outside the dispatcher", func() {
		graph := newGraph(dispatcher)
		res, err := analysis.NewAnalyzer(analysis.DefaultConfig(), 1).Analyze(graph, 0, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Selectors).To(BeEmpty())
	})

	It("should cache results by code, entry and key", func() {
		graph := newGraph(directJump)
		a := analysis.NewAnalyzer(analysis.DefaultConfig(), 1)
		first, err := a.Analyze(graph, 0, 1)
		Expect(err).NotTo(HaveOccurred())
		again, err := a.Analyze(graph, 0, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(BeIdenticalTo(first))

		stats := a.Stats()
		Expect(stats.NumAnalyses).To(Equal(uint64(1)))
		Expect(stats.NumCached).To(Equal(uint64(1)))
	})

	It("should add cached edges to another graph of the same code", func() {
		a := analysis.NewAnalyzer(analysis.DefaultConfig(), 1)
		first, err := a.Analyze(newGraph(directJump), 0, 1)
		Expect(err).NotTo(HaveOccurred())

		other := newGraph(directJump)
		second, err := a.Analyze(other, 0, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeIdenticalTo(first))
		Expect(a.Stats().NumAnalyses).To(Equal(uint64(1)))

		Expect(starts(other.BasicBlockStartingAt(0x00).Outgoing(1))).To(Equal([]uint64{0x05}))
		Expect(starts(other.BasicBlockStartingAt(0x05).Incoming(1))).To(Equal([]uint64{0x00}))
		for _, pc := range second.Reachable {
			Expect(other.BasicBlockStartingAt(pc).Reachable(1)).To(BeTrue())
		}
		Expect(starts(other.ReachableBlocks(1))).To(Equal(second.Reachable))

		// A second hit on the same graph does not replay again.
		_, err = a.Analyze(other, 0, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(other.BasicBlockStartingAt(0x00).Outgoing(1)).To(HaveLen(1))
		Expect(a.Stats().NumCached).To(Equal(uint64(2)))
	})

	It("should log the analysis duration apart from the timestamp", func() {
		var buf bytes.Buffer
		saved := log.Logger
		log.Logger = zerolog.New(&buf).With().Timestamp().Logger()
		defer func() { log.Logger = saved }()

		_, err := analysis.NewAnalyzer(analysis.DefaultConfig(), 1).Analyze(newGraph(directJump), 0, 1)
		Expect(err).NotTo(HaveOccurred())

		var line string
		for _, l := range strings.Split(buf.String(), "\n") {
			if strings.Contains(l, "Function analyzed") {
				line = l
			}
		}
		Expect(line).NotTo(BeEmpty())
		Expect(strings.Count(line, `"time":`)).To(Equal(1))
		Expect(line).To(ContainSubstring(`"elapsed":`))
	})

	It("should replay a result into a graph", func() {
		res := analyze(newGraph(twoPredecessors), 1, analysis.DefaultConfig())
		other := newGraph(twoPredecessors)
		Expect(res.Replay(other)).To(Succeed())

		Expect(starts(other.BasicBlockStartingAt(0x30).Outgoing(1))).To(Equal([]uint64{0x10, 0x20}))
		Expect(starts(other.BasicBlockStartingAt(0x00).Outgoing(1))).To(Equal([]uint64{0x04, 0x09}))
		Expect(starts(other.ReachableBlocks(1))).To(Equal(res.Reachable))
	})

	It("should analyze functions with distinct keys concurrently", func() {
		graph := newGraph(twoPredecessors)
		entries := []analysis.Entry{
			{PC: 0x00, Key: cfg.Dispatcher},
			{PC: 0x00, Key: 1},
			{PC: 0x00, Key: 2},
			{PC: 0x09, Key: 0x09},
			{PC: 0x00, Key: 1},
		}
		a := analysis.NewAnalyzer(analysis.DefaultConfig(), 4)
		results, err := a.AnalyzeAll(context.Background(), graph, entries)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(4))

		for _, res := range results[:3] {
			Expect(res.Edges[0x31]).To(Equal([]uint64{0x10, 0x20}))
			Expect(res.Reachable).To(Equal([]uint64{0x00, 0x04, 0x09, 0x10, 0x20, 0x30}))
		}
		Expect(results[3].Entry).To(Equal(uint64(0x09)))
		Expect(results[3].Reachable).To(Equal([]uint64{0x09, 0x20, 0x30}))
		Expect(results[3].Edges[0x31]).To(Equal([]uint64{0x20}))
	})

	It("should report bad entries", func() {
		graph := newGraph(directJump)
		_, err := analysis.NewAnalyzer(analysis.DefaultConfig(), 2).AnalyzeAll(context.Background(), graph, []analysis.Entry{
			{PC: 0x00, Key: 1},
			{PC: 0x01, Key: 2},
		})
		Expect(errors.Is(err, analysis.ErrEntryNotFound)).To(BeTrue())
		Expect(strings.Contains(err.Error(), "0x1/0x2")).To(BeTrue())
	})
})
