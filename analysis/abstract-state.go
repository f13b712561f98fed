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

package analysis

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pbwaffles/evm-cfg-builder/cfg"
)

// branchMap maps the address of a JUMP/JUMPI to its destination addresses.
type branchMap map[uint64]mapset.Set[uint64]

// add records dst for src and reports whether it was new.
func (m branchMap) add(src, dst uint64) bool {
	dsts, ok := m[src]
	if !ok {
		dsts = mapset.NewThreadUnsafeSet[uint64]()
		m[src] = dsts
	}
	return dsts.Add(dst)
}

// blockQueue is a FIFO of blocks without duplicates.
type blockQueue struct {
	list []*cfg.BasicBlock
	set  map[uint64]bool
}

func newBlockQueue() *blockQueue {
	return &blockQueue{set: map[uint64]bool{}}
}

func (q *blockQueue) push(bbs ...*cfg.BasicBlock) {
	for _, bb := range bbs {
		pc := bb.Start().PC
		if !q.set[pc] {
			q.list = append(q.list, bb)
			q.set[pc] = true
		}
	}
}

func (q *blockQueue) pop() *cfg.BasicBlock {
	bb := q.list[0]
	q.list = q.list[1:]
	delete(q.set, bb.Start().PC)
	return bb
}

func (q *blockQueue) len() int {
	return len(q.list)
}

// analysisState is the working memory of one analysis run.
// It is owned by exactly one StackValueAnalysis.
type analysisState struct {
	// stacksOut holds the output stack of each analyzed block, keyed by the
	// address of its last instruction.
	stacksOut map[uint64]*AbsStack
	// lastInsTopValue holds the top of stack right before each JUMP/JUMPI.
	lastInsTopValue map[uint64]AbsValue
	// bbCounter bounds how often a block is explored.
	bbCounter map[uint64]int

	allDiscoveredTargets  branchMap
	lastDiscoveredTargets branchMap

	explored    []uint64
	exploredSet map[uint64]bool
	worklist    *blockQueue
	toExplore   *blockQueue
}

func newAnalysisState(entry *cfg.BasicBlock) *analysisState {
	st := &analysisState{
		stacksOut:             map[uint64]*AbsStack{},
		lastInsTopValue:       map[uint64]AbsValue{},
		bbCounter:             map[uint64]int{},
		allDiscoveredTargets:  branchMap{},
		lastDiscoveredTargets: branchMap{},
		exploredSet:           map[uint64]bool{},
		worklist:              newBlockQueue(),
		toExplore:             newBlockQueue(),
	}
	st.toExplore.push(entry)
	return st
}

// addBranches records newly resolved destinations of the branch at src.
func (st *analysisState) addBranches(src uint64, dsts []uint64) {
	for _, d := range dsts {
		if st.allDiscoveredTargets.add(src, d) {
			st.lastDiscoveredTargets.add(src, d)
		}
	}
}

// takeLastDiscovered returns the branches found since the previous call.
func (st *analysisState) takeLastDiscovered() branchMap {
	last := st.lastDiscoveredTargets
	st.lastDiscoveredTargets = branchMap{}
	return last
}

// blockEvaluator runs the transfer function over whole basic blocks.
type blockEvaluator struct {
	jt   absJumpTable
	stub Stub
}

// exploreBlock threads stack through bb and publishes the resulting stack
// under the address of its last instruction. If bb ends in JUMP/JUMPI it
// returns the top of stack right before the branch.
func (e *blockEvaluator) exploreBlock(st *analysisState, bb *cfg.BasicBlock, stack *AbsStack) (AbsValue, bool) {
	start := bb.Start().PC
	if !st.exploredSet[start] {
		st.exploredSet[start] = true
		st.explored = append(st.explored, start)
	}

	var target AbsValue
	isBranch := false
	last := len(bb.Instructions) - 1
	for idx, ins := range bb.Instructions {
		if idx == last && ins.IsJump() {
			target, isBranch = stack.Top(), true
			st.lastInsTopValue[ins.PC] = target
		}
		stack = e.jt.transfer(ins, stack, e.stub)
		if idx == last {
			st.stacksOut[ins.PC] = stack
		}
	}
	return target, isBranch
}
