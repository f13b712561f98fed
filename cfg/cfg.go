// Copyright 2018 MPI-SWS and Valentin Wuestholz

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

package cfg

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/multi"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/pbwaffles/evm-cfg-builder/vm"
)

var (
	ErrNoInstructions        = errors.New("no instructions")
	ErrUnorderedInstructions = errors.New("instruction addresses are not strictly increasing")
	ErrKeyInUse              = errors.New("function key is owned by another analysis")
)

// CFG is the block graph of one bytecode program.
// Blocks are shared by every function; edges are kept per function key.
type CFG struct {
	code         []byte
	instructions []vm.Instruction
	insIndex     map[uint64]int
	blocks       []*BasicBlock
	blockStart   map[uint64]*BasicBlock
	blockOf      map[uint64]*BasicBlock

	mu     sync.Mutex
	active map[FunctionKey]bool
}

// New disassembles code and partitions it into basic blocks.
func New(code []byte) (*CFG, error) {
	return NewWithInstructionSet(code, vm.DefaultInstructionSet())
}

// NewWithInstructionSet is New with the stack effects of a given fork.
func NewWithInstructionSet(code []byte, jt *vm.JumpTable) (*CFG, error) {
	c, err := FromInstructions(jt.Disassemble(code))
	if err != nil {
		return nil, err
	}
	c.code = common.CopyBytes(code)
	return c, nil
}

// FromInstructions partitions already decoded instructions into basic blocks.
func FromInstructions(instrs []vm.Instruction) (*CFG, error) {
	if len(instrs) == 0 {
		return nil, ErrNoInstructions
	}
	c := &CFG{
		instructions: instrs,
		insIndex:     make(map[uint64]int, len(instrs)),
		blockStart:   map[uint64]*BasicBlock{},
		blockOf:      make(map[uint64]*BasicBlock, len(instrs)),
		active:       map[FunctionKey]bool{},
	}
	for i, ins := range instrs {
		if 0 < i && ins.PC <= instrs[i-1].PC {
			return nil, errors.Wrapf(ErrUnorderedInstructions, "0x%x after 0x%x", ins.PC, instrs[i-1].PC)
		}
		c.insIndex[ins.PC] = i
	}
	c.computeBasicBlocks()
	return c, nil
}

// computeBasicBlocks starts a block at the first instruction, at every
// JUMPDEST and after every block-ending instruction.
func (c *CFG) computeBasicBlocks() {
	start := 0
	flush := func(end int) {
		if start < end {
			bb := newBasicBlock(c.instructions[start:end:end])
			c.blocks = append(c.blocks, bb)
			c.blockStart[bb.Start().PC] = bb
			for _, ins := range bb.Instructions {
				c.blockOf[ins.PC] = bb
			}
		}
		start = end
	}
	for i, ins := range c.instructions {
		if ins.IsJumpDest() {
			flush(i)
		}
		if ins.EndsBlock() {
			flush(i + 1)
		}
	}
	flush(len(c.instructions))
}

// Code returns the bytecode the graph was built from, or nil.
func (c *CFG) Code() []byte {
	return c.code
}

// CodeHash identifies the program. Graphs built from instructions alone are
// hashed over their instruction encoding.
func (c *CFG) CodeHash() common.Hash {
	if c.code != nil {
		return crypto.Keccak256Hash(c.code)
	}
	buf := make([]byte, 0, len(c.instructions)*41)
	for _, ins := range c.instructions {
		buf = binary.BigEndian.AppendUint64(buf, ins.PC)
		buf = append(buf, byte(ins.Op))
		if arg, ok := ins.Operand(); ok {
			b := arg.Bytes32()
			buf = append(buf, b[:]...)
		}
	}
	return crypto.Keccak256Hash(buf)
}

func (c *CFG) Instructions() []vm.Instruction {
	return c.instructions
}

// InstructionAt returns the instruction at pc, or nil if no instruction starts there.
func (c *CFG) InstructionAt(pc uint64) *vm.Instruction {
	i, ok := c.insIndex[pc]
	if !ok {
		return nil
	}
	ins := c.instructions[i]
	return &ins
}

func (c *CFG) BasicBlocks() []*BasicBlock {
	return c.blocks
}

// BasicBlockAt returns the block containing the instruction at pc.
func (c *CFG) BasicBlockAt(pc uint64) *BasicBlock {
	return c.blockOf[pc]
}

// BasicBlockStartingAt returns the block whose first instruction is at pc.
func (c *CFG) BasicBlockStartingAt(pc uint64) *BasicBlock {
	return c.blockStart[pc]
}

func (c *CFG) ValidJumpDests() []uint64 {
	return vm.ValidJumpDests(c.instructions)
}

// Link adds the edge from -> to under key on both blocks.
func Link(from, to *BasicBlock, key FunctionKey) {
	from.AddOutgoing(to, key)
	to.AddIncoming(from, key)
}

// ComputeSimpleEdges adds the edges that need no stack knowledge: the
// fall-through of JUMPI, and of blocks split by a following JUMPDEST.
func (c *CFG) ComputeSimpleEdges(key FunctionKey) {
	for _, bb := range c.blocks {
		end := bb.End()
		if end.Name != "JUMPI" && end.EndsBlock() {
			continue
		}
		if next := c.blockStart[end.Next()]; next != nil {
			Link(bb, next, key)
		}
	}
}

// FunctionGraph returns the blocks and the edges under key as a directed
// graph whose node IDs are block start addresses.
func (c *CFG) FunctionGraph(key FunctionKey) *multi.DirectedGraph {
	g := multi.NewDirectedGraph()
	for _, bb := range c.blocks {
		g.AddNode(multi.Node(int64(bb.Start().PC)))
	}
	for _, bb := range c.blocks {
		from := g.Node(int64(bb.Start().PC))
		for _, succ := range bb.Outgoing(key) {
			g.SetLine(g.NewLine(from, g.Node(int64(succ.Start().PC))))
		}
	}
	return g
}

// ComputeReachability marks every block reachable from the block starting
// at entry under key and returns their start addresses in visit order.
func (c *CFG) ComputeReachability(entry uint64, key FunctionKey) []uint64 {
	if c.blockStart[entry] == nil {
		return nil
	}
	g := c.FunctionGraph(key)
	var reached []uint64
	dfs := traverse.DepthFirst{
		Visit: func(n graph.Node) {
			pc := uint64(n.ID())
			c.blockStart[pc].SetReachable(key)
			reached = append(reached, pc)
		},
	}
	dfs.Walk(g, g.Node(int64(entry)), nil)
	return reached
}

// ReachableBlocks returns the blocks marked reachable under key.
func (c *CFG) ReachableBlocks(key FunctionKey) []*BasicBlock {
	var blocks []*BasicBlock
	for _, bb := range c.blocks {
		if bb.Reachable(key) {
			blocks = append(blocks, bb)
		}
	}
	return blocks
}

// Acquire claims key for one analysis. The returned func releases it.
func (c *CFG) Acquire(key FunctionKey) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[key] {
		return nil, errors.Wrapf(ErrKeyInUse, "key %v", key)
	}
	c.active[key] = true
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.active, key)
	}, nil
}
