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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
	"golang.org/x/exp/slices"
)

// DefaultMaxValues bounds a candidate set when destinations are not restricted.
const DefaultMaxValues = 100

// Domain holds the parameters shared by all abstract values of one analysis.
type Domain struct {
	// authorized is nil unless candidates are restricted to jump destinations.
	authorized mapset.Set[uint256.Int]
	maxValues  int
}

// NewDomain returns a domain whose candidate sets hold at most maxValues values.
func NewDomain(maxValues int) *Domain {
	if maxValues <= 0 {
		maxValues = DefaultMaxValues
	}
	return &Domain{maxValues: maxValues}
}

// NewRestrictedDomain returns a domain that only tracks the given
// destinations. The set bound becomes the number of destinations.
func NewRestrictedDomain(dests []uint64) *Domain {
	authorized := mapset.NewThreadUnsafeSet[uint256.Int]()
	for _, d := range dests {
		authorized.Add(*uint256.NewInt(d))
	}
	return &Domain{authorized: authorized, maxValues: len(dests)}
}

func (d *Domain) Restricted() bool {
	return d.authorized != nil
}

func (d *Domain) MaxValues() int {
	return d.maxValues
}

// AbsValue is the abstract value of one stack slot: either Unknown, or a
// known set of candidates. With a restricted domain, candidates outside the
// destinations are folded into a single opaque member.
// Values are never modified once shared.
type AbsValue struct {
	dom     *Domain
	unknown bool
	vals    mapset.Set[uint256.Int]
	opaque  bool
}

// Unknown returns the top value.
func (d *Domain) Unknown() AbsValue {
	return AbsValue{dom: d, unknown: true}
}

func (d *Domain) empty() AbsValue {
	return AbsValue{dom: d, vals: mapset.NewThreadUnsafeSet[uint256.Int]()}
}

// Singleton returns the value whose only candidate is x.
func (d *Domain) Singleton(x *uint256.Int) AbsValue {
	v := d.empty()
	v.add(x)
	return v
}

// SingletonUint64 is Singleton for a small constant.
func (d *Domain) SingletonUint64(x uint64) AbsValue {
	return d.Singleton(uint256.NewInt(x))
}

// Values builds a known value from the given candidates.
// Without candidates there is nothing known, so the result is Unknown.
func (d *Domain) Values(xs ...uint64) AbsValue {
	if len(xs) == 0 {
		return d.Unknown()
	}
	v := d.empty()
	for _, x := range xs {
		v.add(uint256.NewInt(x))
	}
	return v
}

// add inserts a candidate into a value that has not been shared yet.
func (v *AbsValue) add(x *uint256.Int) {
	if v.unknown {
		return
	}
	if v.dom.authorized == nil || v.dom.authorized.Contains(*x) {
		v.vals.Add(*x)
	} else {
		v.opaque = true
	}
	v.collapse()
}

func (v *AbsValue) collapse() {
	if v.dom.maxValues < v.cardinality() {
		*v = v.dom.Unknown()
	}
}

func (v AbsValue) cardinality() int {
	n := v.vals.Cardinality()
	if v.opaque {
		n++
	}
	return n
}

// Append returns a copy of v with x added as a candidate.
func (v AbsValue) Append(x *uint256.Int) AbsValue {
	if v.unknown {
		return v
	}
	res := v.clone()
	res.add(x)
	return res
}

func (v AbsValue) clone() AbsValue {
	if v.unknown {
		return v.dom.Unknown()
	}
	return AbsValue{dom: v.dom, vals: v.vals.Clone(), opaque: v.opaque}
}

func (v AbsValue) IsUnknown() bool {
	return v.unknown
}

// Opaque reports whether some candidate lies outside the tracked destinations.
func (v AbsValue) Opaque() bool {
	return !v.unknown && v.opaque
}

// Candidates returns the known candidates in ascending order, or nil for Unknown.
func (v AbsValue) Candidates() []uint256.Int {
	if v.unknown {
		return nil
	}
	cs := v.vals.ToSlice()
	slices.SortFunc(cs, func(a, b uint256.Int) int {
		return a.Cmp(&b)
	})
	return cs
}

// And computes the bitwise AND of every pair of candidates.
// The result is Unknown if either side is.
func (v AbsValue) And(o AbsValue) AbsValue {
	if v.unknown || o.unknown {
		return v.dom.Unknown()
	}
	res := v.dom.empty()
	res.opaque = v.opaque || o.opaque
	for _, a := range v.Candidates() {
		for _, b := range o.Candidates() {
			res.add(new(uint256.Int).And(&a, &b))
			if res.unknown {
				return res
			}
		}
	}
	res.collapse()
	return res
}

// Join returns the union of both candidate sets, or Unknown if either is
// Unknown or the union exceeds the domain bound.
func (v AbsValue) Join(o AbsValue) AbsValue {
	if v.unknown || o.unknown {
		return v.dom.Unknown()
	}
	res := AbsValue{dom: v.dom, vals: v.vals.Union(o.vals), opaque: v.opaque || o.opaque}
	res.collapse()
	return res
}

// Equal compares values structurally. Unknown equals Unknown.
func (v AbsValue) Equal(o AbsValue) bool {
	if v.unknown || o.unknown {
		return v.unknown == o.unknown
	}
	return v.opaque == o.opaque && v.vals.Equal(o.vals)
}

func (v AbsValue) String() string {
	if v.unknown {
		return "⊤"
	}
	var strs []string
	for _, c := range v.Candidates() {
		strs = append(strs, c.Hex())
	}
	if v.opaque {
		strs = append(strs, "?")
	}
	return fmt.Sprintf("{%s}", strings.Join(strs, " "))
}
