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

package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/asm"
)

// Disassemble decodes code with the table's opcodes.
// A PUSH cut short by the end of the code reads the missing bytes as zero,
// as the EVM does.
func (jt *JumpTable) Disassemble(code []byte) []Instruction {
	var instrs []Instruction
	it := asm.NewInstructionIterator(code)
	for it.Next() {
		ins := jt.instruction(it.PC(), it.Op())
		if ins.Op.IsPush() {
			ins.operand.SetBytes(it.Arg())
			ins.hasOperand = true
		}
		instrs = append(instrs, ins)
	}
	if it.Error() != nil {
		// The iterator stops on an incomplete push; it.PC() still points at it.
		pc := it.PC()
		ins := jt.instruction(pc, it.Op())
		sz := int(ins.Size() - 1)
		ins.operand.SetBytes(common.RightPadBytes(code[pc+1:], sz))
		ins.hasOperand = true
		instrs = append(instrs, ins)
	}
	return instrs
}

// Disassemble decodes code with the default instruction set.
func Disassemble(code []byte) []Instruction {
	return DefaultInstructionSet().Disassemble(code)
}

// ValidJumpDests returns the addresses of all JUMPDEST instructions.
func ValidJumpDests(instrs []Instruction) []uint64 {
	var dests []uint64
	for _, ins := range instrs {
		if ins.IsJumpDest() {
			dests = append(dests, ins.PC)
		}
	}
	return dests
}
