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
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/pbwaffles/evm-cfg-builder/vm"
)

// FunctionKey identifies the traversal context that owns a set of edges.
type FunctionKey int64

// Dispatcher is the key reserved for the selector dispatch code at the
// entry of the runtime bytecode.
const Dispatcher FunctionKey = -2

func (k FunctionKey) String() string {
	if k == Dispatcher {
		return "dispatcher"
	}
	return fmt.Sprintf("0x%x", int64(k))
}

type blockSet map[uint64]*BasicBlock

// BasicBlock is a straight-line run of instructions.
// Its edges and reachability are kept per function key.
type BasicBlock struct {
	Instructions []vm.Instruction

	// mu guards the per-key maps. Each key's entries are only written by the
	// analysis that owns the key.
	mu        sync.RWMutex
	incoming  map[FunctionKey]blockSet
	outgoing  map[FunctionKey]blockSet
	reachable map[FunctionKey]bool
}

func newBasicBlock(instrs []vm.Instruction) *BasicBlock {
	return &BasicBlock{
		Instructions: instrs,
		incoming:     map[FunctionKey]blockSet{},
		outgoing:     map[FunctionKey]blockSet{},
		reachable:    map[FunctionKey]bool{},
	}
}

func (bb *BasicBlock) Start() vm.Instruction {
	return bb.Instructions[0]
}

func (bb *BasicBlock) End() vm.Instruction {
	return bb.Instructions[len(bb.Instructions)-1]
}

// Contains reports whether pc is the address of one of the block's instructions.
func (bb *BasicBlock) Contains(pc uint64) bool {
	return bb.Start().PC <= pc && pc <= bb.End().PC
}

func (bb *BasicBlock) AddIncoming(from *BasicBlock, key FunctionKey) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	addTo(bb.incoming, key, from)
}

func (bb *BasicBlock) AddOutgoing(to *BasicBlock, key FunctionKey) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	addTo(bb.outgoing, key, to)
}

// Incoming returns the predecessors under key, ordered by start address.
func (bb *BasicBlock) Incoming(key FunctionKey) []*BasicBlock {
	bb.mu.RLock()
	defer bb.mu.RUnlock()
	return sortedBlocks(bb.incoming[key])
}

// Outgoing returns the successors under key, ordered by start address.
func (bb *BasicBlock) Outgoing(key FunctionKey) []*BasicBlock {
	bb.mu.RLock()
	defer bb.mu.RUnlock()
	return sortedBlocks(bb.outgoing[key])
}

func (bb *BasicBlock) Reachable(key FunctionKey) bool {
	bb.mu.RLock()
	defer bb.mu.RUnlock()
	return bb.reachable[key]
}

func (bb *BasicBlock) SetReachable(key FunctionKey) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	bb.reachable[key] = true
}

func (bb *BasicBlock) String() string {
	return fmt.Sprintf("bb[0x%x-0x%x]", bb.Start().PC, bb.End().PC)
}

func addTo(m map[FunctionKey]blockSet, key FunctionKey, b *BasicBlock) {
	set, ok := m[key]
	if !ok {
		set = blockSet{}
		m[key] = set
	}
	set[b.Start().PC] = b
}

func sortedBlocks(set blockSet) []*BasicBlock {
	starts := maps.Keys(set)
	slices.Sort(starts)
	blocks := make([]*BasicBlock, len(starts))
	for i, start := range starts {
		blocks[i] = set[start]
	}
	return blocks
}
