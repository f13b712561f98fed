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
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"

	"github.com/pbwaffles/evm-cfg-builder/cfg"
	"github.com/pbwaffles/evm-cfg-builder/vm"
)

// selectorCollector watches the dispatcher for PUSH4 operands that are
// compared by EQ, which is how solc routes calls to function bodies.
// It never changes the stack.
type selectorCollector struct {
	graph     *cfg.CFG
	selectors mapset.Set[uint32]
}

func newSelectorCollector(graph *cfg.CFG) *selectorCollector {
	return &selectorCollector{
		graph:     graph,
		selectors: mapset.NewThreadUnsafeSet[uint32](),
	}
}

func (c *selectorCollector) stub(ins vm.Instruction, _ *AbsStack) (bool, *AbsStack) {
	if ins.Name != "PUSH4" || !c.comparedNext(ins) {
		return false, nil
	}
	if arg, ok := ins.Operand(); ok {
		c.selectors.Add(uint32(arg.Uint64()))
	}
	return false, nil
}

// comparedNext reports whether ins is followed by EQ, possibly after one DUP.
func (c *selectorCollector) comparedNext(ins vm.Instruction) bool {
	next := c.graph.InstructionAt(ins.Next())
	if next != nil && strings.HasPrefix(next.Name, "DUP") {
		next = c.graph.InstructionAt(next.Next())
	}
	return next != nil && next.Name == "EQ"
}

func (c *selectorCollector) Selectors() []uint32 {
	sels := c.selectors.ToSlice()
	slices.Sort(sels)
	return sels
}
