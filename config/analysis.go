// Copyright 2022 The evm-cfg-builder Authors

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


package config

var (
	CMaxIteration = Def{
		Type:    Int,
		Key:     "maxiteration",
		Default: 1000,
		Desc:    "bound on outer exploration passes",
	}
	CMaxExploration = Def{
		Type:    Int,
		Key:     "maxexploration",
		Default: 100,
		Desc:    "bound on evaluations of a single block",
	}
	CMaxValues = Def{
		Type:    Int,
		Key:     "maxvalues",
		Default: 100,
		Desc:    "candidate set bound when destinations are not restricted",
	}
	CRestrict = Def{
		Type:    Bool,
		Key:     "restrict",
		Default: true,
		Desc:    "only track JUMPDEST addresses as candidates",
	}
	CEntries = Def{
		Type:     StringSlice,
		Key:      "entries",
		KeyShort: "e",
		Default:  []string{},
		Desc:     "additional function entry addresses, analyzed under their own key",
	}
)

// AnalysisGroup holds the analysis.* keys.
var AnalysisGroup = NewDefGroup("analysis",
	CMaxIteration,
	CMaxExploration,
	CMaxValues,
	CRestrict,
	CEntries,
)
