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


package cfg_test

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pbwaffles/evm-cfg-builder/cfg"
	"github.com/pbwaffles/evm-cfg-builder/vm"
)

func starts(blocks []*cfg.BasicBlock) []uint64 {
	pcs := make([]uint64, len(blocks))
	for i, bb := range blocks {
		pcs[i] = bb.Start().PC
	}
	return pcs
}

var _ = Describe("CFG", func() {
	// 0x00 PUSH1 0x08; 0x02 JUMPI; 0x03 PUSH1 0x00; 0x05 JUMPDEST; 0x06 POP;
	// 0x07 STOP; 0x08 JUMPDEST; 0x09 STOP
	code := common.FromHex("0x6008576000" + "5b5000" + "5b00")
	var graph *cfg.CFG

	BeforeEach(func() {
		var err error
		graph, err = cfg.New(code)
		Expect(err).NotTo(HaveOccurred())
	})

	Context("basic block partition", func() {
		It("should split at JUMPDESTs and after block enders", func() {
			Expect(starts(graph.BasicBlocks())).To(Equal([]uint64{0x00, 0x03, 0x05, 0x08}))
			Expect(graph.BasicBlockStartingAt(0x03).End().PC).To(Equal(uint64(0x03)))
			Expect(graph.BasicBlockStartingAt(0x05).End().Name).To(Equal("STOP"))
		})

		It("should look up instructions and their blocks", func() {
			Expect(graph.InstructionAt(0x01)).To(BeNil())
			Expect(graph.InstructionAt(0x05).Name).To(Equal("JUMPDEST"))
			Expect(graph.BasicBlockAt(0x06).Start().PC).To(Equal(uint64(0x05)))
			Expect(graph.BasicBlockStartingAt(0x06)).To(BeNil())
			Expect(graph.ValidJumpDests()).To(Equal([]uint64{0x05, 0x08}))
		})

		It("should reject malformed instruction streams", func() {
			_, err := cfg.New(nil)
			Expect(errors.Is(err, cfg.ErrNoInstructions)).To(BeTrue())

			_, err = cfg.FromInstructions([]vm.Instruction{
				vm.MustInstruction(0x02, "STOP", 0),
				vm.MustInstruction(0x01, "STOP", 0),
			})
			Expect(errors.Is(err, cfg.ErrUnorderedInstructions)).To(BeTrue())
		})

		It("should hash the code it was built from", func() {
			Expect(graph.CodeHash()).To(Equal(crypto.Keccak256Hash(code)))

			fromInstrs, err := cfg.FromInstructions(vm.Disassemble(code))
			Expect(err).NotTo(HaveOccurred())
			Expect(fromInstrs.Code()).To(BeNil())
			again, err := cfg.FromInstructions(vm.Disassemble(code))
			Expect(err).NotTo(HaveOccurred())
			Expect(fromInstrs.CodeHash()).To(Equal(again.CodeHash()))
		})
	})

	Context("edges", func() {
		It("should add fall-through edges only under the given key", func() {
			graph.ComputeSimpleEdges(1)
			bb0 := graph.BasicBlockStartingAt(0x00)
			bb3 := graph.BasicBlockStartingAt(0x03)
			bb5 := graph.BasicBlockStartingAt(0x05)

			Expect(starts(bb0.Outgoing(1))).To(Equal([]uint64{0x03}))
			Expect(starts(bb3.Outgoing(1))).To(Equal([]uint64{0x05}))
			Expect(starts(bb5.Incoming(1))).To(Equal([]uint64{0x03}))
			Expect(bb5.Outgoing(1)).To(BeEmpty())
			Expect(bb0.Outgoing(2)).To(BeEmpty())
		})

		It("should compute reachability over the edges of a key", func() {
			graph.ComputeSimpleEdges(1)
			Expect(graph.ComputeReachability(0x00, 1)).To(ConsistOf(uint64(0x00), uint64(0x03), uint64(0x05)))
			Expect(graph.BasicBlockStartingAt(0x08).Reachable(1)).To(BeFalse())

			cfg.Link(graph.BasicBlockStartingAt(0x00), graph.BasicBlockStartingAt(0x08), 1)
			Expect(graph.ComputeReachability(0x00, 1)).To(HaveLen(4))
			Expect(starts(graph.ReachableBlocks(1))).To(Equal([]uint64{0x00, 0x03, 0x05, 0x08}))
			Expect(graph.ReachableBlocks(2)).To(BeEmpty())
		})

		It("should handle self loops", func() {
			bb := graph.BasicBlockStartingAt(0x08)
			cfg.Link(bb, bb, 3)
			cfg.Link(bb, bb, 3)
			Expect(starts(bb.Outgoing(3))).To(Equal([]uint64{0x08}))
			Expect(graph.ComputeReachability(0x08, 3)).To(Equal([]uint64{0x08}))
		})

		It("should not compute reachability from a non block start", func() {
			Expect(graph.ComputeReachability(0x06, 1)).To(BeNil())
		})
	})

	Context("function keys", func() {
		It("should let only one analysis own a key", func() {
			release, err := graph.Acquire(cfg.Dispatcher)
			Expect(err).NotTo(HaveOccurred())

			_, err = graph.Acquire(cfg.Dispatcher)
			Expect(errors.Is(err, cfg.ErrKeyInUse)).To(BeTrue())

			other, err := graph.Acquire(7)
			Expect(err).NotTo(HaveOccurred())
			other()

			release()
			release, err = graph.Acquire(cfg.Dispatcher)
			Expect(err).NotTo(HaveOccurred())
			release()
		})

		It("should print the dispatcher key by name", func() {
			Expect(cfg.Dispatcher.String()).To(Equal("dispatcher"))
			Expect(cfg.FunctionKey(0x1a).String()).To(Equal("0x1a"))
		})
	})
})
