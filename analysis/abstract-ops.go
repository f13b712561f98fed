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
	ethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/pbwaffles/evm-cfg-builder/vm"
)

// Stub may take over the abstract execution of an instruction.
// If handled is false the generic transfer function runs instead.
type Stub func(ins vm.Instruction, stack *AbsStack) (handled bool, result *AbsStack)

// execFn is the type of functions executing abstract operations.
// It may modify the stack in place and returns the resulting stack.
type execFn func(ins vm.Instruction, stack *AbsStack) *AbsStack

// absJumpTable represents a jump table for abstract operations.
// Opcodes without an entry use the generic pop/push rule.
type absJumpTable [256]execFn

// newAbsJumpTable creates an abstract jump table.
func newAbsJumpTable() absJumpTable {
	var jt absJumpTable
	for i := 0; i < 32; i++ {
		jt[int(ethvm.PUSH1)+i] = opPush
	}
	for i := 0; i < 16; i++ {
		jt[int(ethvm.DUP1)+i] = makeDupOp(i + 1)
		jt[int(ethvm.SWAP1)+i] = makeSwapOp(i + 1)
	}
	jt[ethvm.AND] = opAnd
	return jt
}

func opPush(ins vm.Instruction, stack *AbsStack) *AbsStack {
	arg, ok := ins.Operand()
	if !ok {
		stack.pushUnknown()
		return stack
	}
	stack.PushCandidate(arg)
	return stack
}

func makeDupOp(n int) execFn {
	return func(_ vm.Instruction, stack *AbsStack) *AbsStack {
		stack.Dup(n)
		return stack
	}
}

func makeSwapOp(n int) execFn {
	return func(_ vm.Instruction, stack *AbsStack) *AbsStack {
		stack.Swap(n)
		return stack
	}
}

// opAnd is modeled exactly since jump targets are often masked before use.
func opAnd(_ vm.Instruction, stack *AbsStack) *AbsStack {
	v1 := stack.Pop()
	v2 := stack.Pop()
	stack.PushValue(v1.And(v2))
	return stack
}

// popPushUnknown pops the declared operands and pushes Unknown results.
// It keeps the stack depth right for every opcode that is not modeled.
func popPushUnknown(ins vm.Instruction, stack *AbsStack) *AbsStack {
	for i := 0; i < ins.Pops; i++ {
		stack.Pop()
	}
	for i := 0; i < ins.Pushes; i++ {
		stack.pushUnknown()
	}
	return stack
}

// transfer applies the abstract semantics of ins to stack.
func (jt *absJumpTable) transfer(ins vm.Instruction, stack *AbsStack, stub Stub) *AbsStack {
	if stub != nil {
		if handled, res := stub(ins, stack); handled {
			if res == nil {
				return stack
			}
			return res
		}
	}
	if op := jt[ins.Op]; op != nil {
		return op(ins, stack)
	}
	return popPushUnknown(ins, stack)
}
