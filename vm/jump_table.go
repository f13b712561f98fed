// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"fmt"

	"github.com/pkg/errors"

	ethvm "github.com/ethereum/go-ethereum/core/vm"
)

// OpCode is the EVM opcode byte.
type OpCode = ethvm.OpCode

// Opcodes whose go-ethereum constant names changed across releases are
// pinned by value here.
const (
	SHA3       OpCode = 0x20
	DIFFICULTY OpCode = 0x44
	INVALID    OpCode = 0xfe
)

// Operation describes the stack effect of one opcode.
type Operation struct {
	Name string
	// Pops is the number of stack items the operation consumes.
	Pops int
	// Pushes is the number of stack items the operation produces.
	Pushes int
	// Valid is false for bytes that are undefined at the selected fork.
	Valid bool
}

// JumpTable contains the EVM opcodes supported at a given fork.
type JumpTable [256]Operation

var (
	frontierInstructionSet       = newFrontierInstructionSet()
	homesteadInstructionSet      = newHomesteadInstructionSet()
	byzantiumInstructionSet      = newByzantiumInstructionSet()
	constantinopleInstructionSet = newConstantinopleInstructionSet()
	istanbulInstructionSet       = newIstanbulInstructionSet()
	londonInstructionSet         = newLondonInstructionSet()
)

// DefaultFork is the fork whose instruction set is used when none is given.
const DefaultFork = "london"

var instructionSets = map[string]*JumpTable{
	"frontier":       &frontierInstructionSet,
	"homestead":      &homesteadInstructionSet,
	"byzantium":      &byzantiumInstructionSet,
	"constantinople": &constantinopleInstructionSet,
	"istanbul":       &istanbulInstructionSet,
	"london":         &londonInstructionSet,
}

// InstructionSet returns the jump table of the named fork.
func InstructionSet(fork string) (*JumpTable, error) {
	jt, ok := instructionSets[fork]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFork, "%q", fork)
	}
	return jt, nil
}

// DefaultInstructionSet returns the jump table of DefaultFork.
func DefaultInstructionSet() *JumpTable {
	return &londonInstructionSet
}

func stackOp(name string, pops, pushes int) Operation {
	return Operation{Name: name, Pops: pops, Pushes: pushes, Valid: true}
}

// newLondonInstructionSet returns the frontier, homestead, byzantium,
// constantinople, istanbul and london instructions.
func newLondonInstructionSet() JumpTable {
	instructionSet := newIstanbulInstructionSet()
	instructionSet[ethvm.BASEFEE] = stackOp("BASEFEE", 0, 1) // https://eips.ethereum.org/EIPS/eip-3198
	return instructionSet
}

// newIstanbulInstructionSet returns the frontier, homestead,
// byzantium, constantinople and istanbul instructions.
func newIstanbulInstructionSet() JumpTable {
	instructionSet := newConstantinopleInstructionSet()
	instructionSet[ethvm.CHAINID] = stackOp("CHAINID", 0, 1)         // https://eips.ethereum.org/EIPS/eip-1344
	instructionSet[ethvm.SELFBALANCE] = stackOp("SELFBALANCE", 0, 1) // https://eips.ethereum.org/EIPS/eip-1884
	return instructionSet
}

// newConstantinopleInstructionSet returns the frontier, homestead,
// byzantium and constantinople instructions.
func newConstantinopleInstructionSet() JumpTable {
	instructionSet := newByzantiumInstructionSet()
	instructionSet[ethvm.SHL] = stackOp("SHL", 2, 1)
	instructionSet[ethvm.SHR] = stackOp("SHR", 2, 1)
	instructionSet[ethvm.SAR] = stackOp("SAR", 2, 1)
	instructionSet[ethvm.EXTCODEHASH] = stackOp("EXTCODEHASH", 1, 1)
	instructionSet[ethvm.CREATE2] = stackOp("CREATE2", 4, 1)
	return instructionSet
}

// newByzantiumInstructionSet returns the frontier, homestead and
// byzantium instructions.
func newByzantiumInstructionSet() JumpTable {
	instructionSet := newHomesteadInstructionSet()
	instructionSet[ethvm.STATICCALL] = stackOp("STATICCALL", 6, 1)
	instructionSet[ethvm.RETURNDATASIZE] = stackOp("RETURNDATASIZE", 0, 1)
	instructionSet[ethvm.RETURNDATACOPY] = stackOp("RETURNDATACOPY", 3, 0)
	instructionSet[ethvm.REVERT] = stackOp("REVERT", 2, 0)
	return instructionSet
}

// newHomesteadInstructionSet returns the frontier and homestead
// instructions.
func newHomesteadInstructionSet() JumpTable {
	instructionSet := newFrontierInstructionSet()
	instructionSet[ethvm.DELEGATECALL] = stackOp("DELEGATECALL", 6, 1)
	return instructionSet
}

// newFrontierInstructionSet returns the frontier instructions.
func newFrontierInstructionSet() JumpTable {
	instructionSet := JumpTable{
		ethvm.STOP:       stackOp("STOP", 0, 0),
		ethvm.ADD:        stackOp("ADD", 2, 1),
		ethvm.MUL:        stackOp("MUL", 2, 1),
		ethvm.SUB:        stackOp("SUB", 2, 1),
		ethvm.DIV:        stackOp("DIV", 2, 1),
		ethvm.SDIV:       stackOp("SDIV", 2, 1),
		ethvm.MOD:        stackOp("MOD", 2, 1),
		ethvm.SMOD:       stackOp("SMOD", 2, 1),
		ethvm.ADDMOD:     stackOp("ADDMOD", 3, 1),
		ethvm.MULMOD:     stackOp("MULMOD", 3, 1),
		ethvm.EXP:        stackOp("EXP", 2, 1),
		ethvm.SIGNEXTEND: stackOp("SIGNEXTEND", 2, 1),

		ethvm.LT:     stackOp("LT", 2, 1),
		ethvm.GT:     stackOp("GT", 2, 1),
		ethvm.SLT:    stackOp("SLT", 2, 1),
		ethvm.SGT:    stackOp("SGT", 2, 1),
		ethvm.EQ:     stackOp("EQ", 2, 1),
		ethvm.ISZERO: stackOp("ISZERO", 1, 1),
		ethvm.AND:    stackOp("AND", 2, 1),
		ethvm.OR:     stackOp("OR", 2, 1),
		ethvm.XOR:    stackOp("XOR", 2, 1),
		ethvm.NOT:    stackOp("NOT", 1, 1),
		ethvm.BYTE:   stackOp("BYTE", 2, 1),
		SHA3:         stackOp("SHA3", 2, 1),

		ethvm.ADDRESS:      stackOp("ADDRESS", 0, 1),
		ethvm.BALANCE:      stackOp("BALANCE", 1, 1),
		ethvm.ORIGIN:       stackOp("ORIGIN", 0, 1),
		ethvm.CALLER:       stackOp("CALLER", 0, 1),
		ethvm.CALLVALUE:    stackOp("CALLVALUE", 0, 1),
		ethvm.CALLDATALOAD: stackOp("CALLDATALOAD", 1, 1),
		ethvm.CALLDATASIZE: stackOp("CALLDATASIZE", 0, 1),
		ethvm.CALLDATACOPY: stackOp("CALLDATACOPY", 3, 0),
		ethvm.CODESIZE:     stackOp("CODESIZE", 0, 1),
		ethvm.CODECOPY:     stackOp("CODECOPY", 3, 0),
		ethvm.GASPRICE:     stackOp("GASPRICE", 0, 1),
		ethvm.EXTCODESIZE:  stackOp("EXTCODESIZE", 1, 1),
		ethvm.EXTCODECOPY:  stackOp("EXTCODECOPY", 4, 0),

		ethvm.BLOCKHASH: stackOp("BLOCKHASH", 1, 1),
		ethvm.COINBASE:  stackOp("COINBASE", 0, 1),
		ethvm.TIMESTAMP: stackOp("TIMESTAMP", 0, 1),
		ethvm.NUMBER:    stackOp("NUMBER", 0, 1),
		DIFFICULTY:      stackOp("DIFFICULTY", 0, 1),
		ethvm.GASLIMIT:  stackOp("GASLIMIT", 0, 1),

		ethvm.POP:     stackOp("POP", 1, 0),
		ethvm.MLOAD:   stackOp("MLOAD", 1, 1),
		ethvm.MSTORE:  stackOp("MSTORE", 2, 0),
		ethvm.MSTORE8: stackOp("MSTORE8", 2, 0),
		ethvm.SLOAD:   stackOp("SLOAD", 1, 1),
		ethvm.SSTORE:  stackOp("SSTORE", 2, 0),
		ethvm.JUMP:    stackOp("JUMP", 1, 0),
		ethvm.JUMPI:   stackOp("JUMPI", 2, 0),
		ethvm.PC:       stackOp("PC", 0, 1),
		ethvm.MSIZE:    stackOp("MSIZE", 0, 1),
		ethvm.GAS:      stackOp("GAS", 0, 1),
		ethvm.JUMPDEST: stackOp("JUMPDEST", 0, 0),

		ethvm.CREATE:   stackOp("CREATE", 3, 1),
		ethvm.CALL:     stackOp("CALL", 7, 1),
		ethvm.CALLCODE: stackOp("CALLCODE", 7, 1),
		ethvm.RETURN:       stackOp("RETURN", 2, 0),
		ethvm.SELFDESTRUCT: stackOp("SELFDESTRUCT", 1, 0),
	}
	for i := 0; i < 32; i++ {
		instructionSet[int(ethvm.PUSH1)+i] = stackOp(fmt.Sprintf("PUSH%d", i+1), 0, 1)
	}
	for i := 0; i < 16; i++ {
		n := i + 1
		instructionSet[int(ethvm.DUP1)+i] = stackOp(fmt.Sprintf("DUP%d", n), n, n+1)
		instructionSet[int(ethvm.SWAP1)+i] = stackOp(fmt.Sprintf("SWAP%d", n), n+1, n+1)
	}
	for i := 0; i <= 4; i++ {
		instructionSet[int(ethvm.LOG0)+i] = stackOp(fmt.Sprintf("LOG%d", i), i+2, 0)
	}
	// Undefined bytes decode as INVALID.
	for op := range instructionSet {
		if !instructionSet[op].Valid {
			instructionSet[op] = Operation{Name: "INVALID"}
		}
	}
	return instructionSet
}
