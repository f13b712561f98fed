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
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// AbsStack is a stack of abstract values. The top is the last element.
// Reading below the bottom never fails: the missing slots are Unknown.
type AbsStack struct {
	dom   *Domain
	elems []AbsValue
}

// NewStack returns an empty stack.
func (d *Domain) NewStack() *AbsStack {
	return &AbsStack{dom: d}
}

// clone copies the stack. Values are immutable, so the slots are shared.
func (s *AbsStack) clone() *AbsStack {
	elems := make([]AbsValue, len(s.elems))
	copy(elems, s.elems)
	return &AbsStack{dom: s.dom, elems: elems}
}

func (s *AbsStack) Depth() int {
	return len(s.elems)
}

// Elems returns the slots from bottom to top.
func (s *AbsStack) Elems() []AbsValue {
	return s.elems
}

// Back returns the n-th value from the top without any padding.
func (s *AbsStack) Back(n int) (AbsValue, bool) {
	if n < 0 || len(s.elems) <= n {
		return AbsValue{}, false
	}
	return s.elems[len(s.elems)-1-n], true
}

// PushCandidate pushes the singleton value of x.
func (s *AbsStack) PushCandidate(x *uint256.Int) {
	s.PushValue(s.dom.Singleton(x))
}

func (s *AbsStack) PushValue(v AbsValue) {
	s.elems = append(s.elems, v)
}

func (s *AbsStack) pushUnknown() {
	s.PushValue(s.dom.Unknown())
}

// Pop removes the top value. An empty stack yields Unknown.
func (s *AbsStack) Pop() AbsValue {
	if len(s.elems) == 0 {
		s.pushUnknown()
	}
	top := s.elems[len(s.elems)-1]
	s.elems = s.elems[:len(s.elems)-1]
	return top
}

// Top peeks at the top value. An empty stack first gets an Unknown slot.
func (s *AbsStack) Top() AbsValue {
	if len(s.elems) == 0 {
		s.pushUnknown()
	}
	return s.elems[len(s.elems)-1]
}

// Swap exchanges the top with the n-th value below it. A stack that is too
// shallow is first padded at the bottom with Unknown.
func (s *AbsStack) Swap(n int) {
	if missing := n + 1 - len(s.elems); 0 < missing {
		padded := make([]AbsValue, missing, missing+len(s.elems))
		for i := range padded {
			padded[i] = s.dom.Unknown()
		}
		s.elems = append(padded, s.elems...)
	}
	top := len(s.elems) - 1
	s.elems[top], s.elems[top-n] = s.elems[top-n], s.elems[top]
}

// Dup pushes a copy of the n-th value from the top (1-based), or Unknown if
// the stack is shallower than n.
func (s *AbsStack) Dup(n int) {
	if len(s.elems) < n {
		s.pushUnknown()
		return
	}
	s.PushValue(s.elems[len(s.elems)-n])
}

// Merge joins two stacks aligned at their tops. Slots only present in the
// deeper stack are copied unchanged.
func (s *AbsStack) Merge(o *AbsStack) *AbsStack {
	long, short := s, o
	if len(long.elems) < len(short.elems) {
		long, short = short, long
	}
	res := long.clone()
	for i := 1; i <= len(short.elems); i++ {
		res.elems[len(res.elems)-i] = res.elems[len(res.elems)-i].Join(short.elems[len(short.elems)-i])
	}
	return res
}

// Equal reports whether both stacks have the same depth and equal slots.
func (s *AbsStack) Equal(o *AbsStack) bool {
	if len(s.elems) != len(o.elems) {
		return false
	}
	for i := range s.elems {
		if !s.elems[i].Equal(o.elems[i]) {
			return false
		}
	}
	return true
}

func (s *AbsStack) String() string {
	strs := make([]string, len(s.elems))
	for i, v := range s.elems {
		strs[i] = v.String()
	}
	return fmt.Sprintf("[%s]", strings.Join(strs, " "))
}

// MergeStacks joins any number of stacks aligned at their tops. At each depth
// only the stacks deep enough to have that slot contribute.
func MergeStacks(d *Domain, stacks []*AbsStack) *AbsStack {
	var fromTop []AbsValue
	for i := 0; ; i++ {
		found := false
		var v AbsValue
		for _, st := range stacks {
			slot, ok := st.Back(i)
			if !ok {
				continue
			}
			if !found {
				v, found = slot, true
				continue
			}
			v = v.Join(slot)
		}
		if !found {
			break
		}
		fromTop = append(fromTop, v)
	}
	res := d.NewStack()
	for i := len(fromTop) - 1; 0 <= i; i-- {
		res.PushValue(fromTop[i])
	}
	return res
}
