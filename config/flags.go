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

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ConfigType int

const (
	String ConfigType = iota
	Int
	Uint8
	Bool
	StringSlice
)

// Def describes one configuration key and its command line flag.
type Def struct {
	Type     ConfigType // default to string
	Key      string
	KeyShort string // only valid in command line arguments, leave empty if not used
	Default  any
	Desc     string
}

var (
	CLogLevel = Def{
		Type:    Uint8,
		Key:     "log.level",
		Default: uint8(zerolog.InfoLevel),
		Desc:    "zerolog level, 0 is debug",
	}
	CLogFile = Def{
		Key:     "log.file",
		Default: "stderr",
		Desc:    "log outputs separated by ';' (stdout, stderr or a path)",
	}
	CLogLocation = Def{
		Type:    Bool,
		Key:     "log.location",
		Default: false,
		Desc:    "log the caller location",
	}
)

var (
	CFork = Def{
		Key:     "fork",
		Default: "london",
		Desc:    "instruction set used for disassembly",
	}
	CParallelism = Def{
		Type:     Int,
		Key:      "parallelism",
		KeyShort: "j",
		Default:  1,
		Desc:     "number of functions analyzed concurrently",
	}
)

var GlobalFlagDefs = []Def{
	CLogLevel,
	CLogFile,
	CLogLocation,

	CFork,
	CParallelism,
}

var GlobalFlagSet *pflag.FlagSet = BuildFlagSet(
	"evmcfg",
	GlobalFlagDefs...,
)

// DefGroup is a set of Defs whose keys are prefixed by the group name.
type DefGroup struct {
	Name string
	Defs map[string]Def

	flagSet *pflag.FlagSet
}

func NewDefGroup(name string, defs ...Def) *DefGroup {
	defGroup := DefGroup{Name: name, Defs: make(map[string]Def)}
	defGroup.Add(defs...)
	return &defGroup
}

func (g *DefGroup) Add(defs ...Def) {
	for _, def := range defs {
		g.Defs[def.Key] = def
	}
}

func (g *DefGroup) KeyOf(def Def) string {
	if d, ok := g.Defs[def.Key]; ok && d.Key == def.Key && d.Type == def.Type {
		return fmt.Sprintf("%s.%s", g.Name, def.Key)
	}
	panic(fmt.Sprintf("%s not found in group %s", def.Key, g.Name))
}

func (g *DefGroup) FlagSet() *pflag.FlagSet {
	if g.flagSet == nil {
		slice := make([]Def, 0, len(g.Defs))
		for _, def := range g.Defs {
			slice = append(slice, def)
		}
		g.flagSet = BuildFlagSet(g.Name, slice...)
	}
	return g.flagSet
}

// BindToViper binds every flag of the group to its prefixed key and
// registers the defaults, so config files and env variables apply too.
func (g *DefGroup) BindToViper() {
	set := g.FlagSet()
	for k, def := range g.Defs {
		viper.SetDefault(g.KeyOf(def), def.Default)
		err := viper.BindPFlag(g.KeyOf(def), set.Lookup(k))
		if err != nil {
			panic(fmt.Errorf("failed to bind flag %s to viper: %w", k, err))
		}
	}
}

func BuildFlagSet(name string, defs ...Def) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	for _, def := range defs {
		switch def.Type {
		case String:
			if def.KeyShort != "" {
				flagSet.StringP(def.Key, def.KeyShort, def.Default.(string), def.Desc)
			} else {
				flagSet.String(def.Key, def.Default.(string), def.Desc)
			}
		case Int:
			if def.KeyShort != "" {
				flagSet.IntP(def.Key, def.KeyShort, def.Default.(int), def.Desc)
			} else {
				flagSet.Int(def.Key, def.Default.(int), def.Desc)
			}
		case Uint8:
			if def.KeyShort != "" {
				flagSet.Uint8P(def.Key, def.KeyShort, def.Default.(uint8), def.Desc)
			} else {
				flagSet.Uint8(def.Key, def.Default.(uint8), def.Desc)
			}
		case Bool:
			if def.KeyShort != "" {
				flagSet.BoolP(def.Key, def.KeyShort, def.Default.(bool), def.Desc)
			} else {
				flagSet.Bool(def.Key, def.Default.(bool), def.Desc)
			}
		case StringSlice:
			if def.KeyShort != "" {
				flagSet.StringSliceP(def.Key, def.KeyShort, def.Default.([]string), def.Desc)
			} else {
				flagSet.StringSlice(def.Key, def.Default.([]string), def.Desc)
			}
		}
	}
	return flagSet
}

func setupConfigs(configDefs ...Def) {
	flagSet := BuildFlagSet("evmcfg", configDefs...)
	for _, def := range configDefs {
		viper.SetDefault(def.Key, def.Default)
	}
	flagSet.ParseErrorsWhitelist.UnknownFlags = true
	flagSet.Usage = func() {}
	_ = flagSet.Parse(os.Args[1:])
	err := viper.BindPFlags(flagSet)
	if err != nil {
		panic(fmt.Errorf("failed to bind flags to viper: %w", err))
	}
}
