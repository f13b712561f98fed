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
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	ethvm "github.com/ethereum/go-ethereum/core/vm"
)

var (
	ErrUnknownOpcode = errors.New("unknown opcode mnemonic")
	ErrUnknownFork   = errors.New("unknown fork")
)

// blockEnders are the mnemonics that terminate a basic block.
var blockEnders = map[string]bool{
	"STOP":         true,
	"SELFDESTRUCT": true,
	"SUICIDE":      true,
	"RETURN":       true,
	"REVERT":       true,
	"INVALID":      true,
	"JUMP":         true,
	"JUMPI":        true,
}

// Instruction is one decoded instruction. It is never modified after construction.
type Instruction struct {
	PC     uint64
	Op     OpCode
	Name   string
	Pops   int
	Pushes int

	operand    uint256.Int
	hasOperand bool
}

// Operand returns a copy of the immediate argument of a PUSH instruction.
func (ins Instruction) Operand() (*uint256.Int, bool) {
	if !ins.hasOperand {
		return nil, false
	}
	return new(uint256.Int).Set(&ins.operand), true
}

// Size returns the number of code bytes the instruction occupies.
func (ins Instruction) Size() uint64 {
	if ins.Op.IsPush() {
		return uint64(ins.Op-ethvm.PUSH1) + 2
	}
	return 1
}

// Next returns the address of the instruction that follows in the code.
func (ins Instruction) Next() uint64 {
	return ins.PC + ins.Size()
}

func (ins Instruction) EndsBlock() bool {
	return blockEnders[ins.Name]
}

// IsJump reports whether the instruction is JUMP or JUMPI.
func (ins Instruction) IsJump() bool {
	return ins.Op == ethvm.JUMP || ins.Op == ethvm.JUMPI
}

// IsJumpDest reports whether the instruction is a valid branch destination.
func (ins Instruction) IsJumpDest() bool {
	return ins.Op == ethvm.JUMPDEST
}

func (ins Instruction) String() string {
	if ins.hasOperand {
		return fmt.Sprintf("0x%x: %s 0x%x", ins.PC, ins.Name, ins.operand.ToBig())
	}
	return fmt.Sprintf("0x%x: %s", ins.PC, ins.Name)
}

// LookupMnemonic returns the opcode with the given mnemonic.
// SUICIDE is accepted as the historical name of SELFDESTRUCT.
func (jt *JumpTable) LookupMnemonic(name string) (OpCode, error) {
	name = strings.ToUpper(name)
	switch name {
	case "SUICIDE":
		name = "SELFDESTRUCT"
	case "INVALID":
		return INVALID, nil
	}
	for op := range jt {
		if jt[op].Valid && jt[op].Name == name {
			return OpCode(op), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownOpcode, "%q", name)
}

// NewInstruction builds an instruction from its mnemonic using the table's
// stack effects. operand is only kept for PUSH instructions.
func (jt *JumpTable) NewInstruction(pc uint64, name string, operand *uint256.Int) (Instruction, error) {
	op, err := jt.LookupMnemonic(name)
	if err != nil {
		return Instruction{}, err
	}
	ins := jt.instruction(pc, op)
	if op.IsPush() {
		if operand != nil {
			ins.operand.Set(operand)
		}
		ins.hasOperand = true
	}
	return ins, nil
}

func (jt *JumpTable) instruction(pc uint64, op OpCode) Instruction {
	operation := jt[op]
	return Instruction{
		PC:     pc,
		Op:     op,
		Name:   operation.Name,
		Pops:   operation.Pops,
		Pushes: operation.Pushes,
	}
}

// NewInstruction builds an instruction with the default instruction set.
func NewInstruction(pc uint64, name string, operand *uint256.Int) (Instruction, error) {
	return DefaultInstructionSet().NewInstruction(pc, name, operand)
}

// MustInstruction is like NewInstruction but panics on an unknown mnemonic.
func MustInstruction(pc uint64, name string, operand uint64) Instruction {
	ins, err := NewInstruction(pc, name, uint256.NewInt(operand))
	if err != nil {
		panic(err)
	}
	return ins
}
