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


package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pbwaffles/evm-cfg-builder/analysis"
	"github.com/pbwaffles/evm-cfg-builder/cfg"
	"github.com/pbwaffles/evm-cfg-builder/config"
	"github.com/pbwaffles/evm-cfg-builder/global"
	"github.com/pbwaffles/evm-cfg-builder/vm"
)

var rootCmd = &cobra.Command{
	Use:   "evm-cfg-builder <file>",
	Short: "Recover the control flow graph of EVM runtime bytecode",
	Args:  cobra.ExactArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		global.SetupLog()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().AddFlagSet(config.GlobalFlagSet)
	err := viper.BindPFlags(config.GlobalFlagSet)
	if err != nil {
		panic(fmt.Errorf("failed to bind global flags: %w", err))
	}
	rootCmd.Flags().AddFlagSet(config.AnalysisGroup.FlagSet())
	config.AnalysisGroup.BindToViper()
}

func main() {
	defer global.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func analysisConfig() analysis.Config {
	g := config.AnalysisGroup
	return analysis.Config{
		MaxIteration:         viper.GetInt(g.KeyOf(config.CMaxIteration)),
		MaxExploration:       viper.GetInt(g.KeyOf(config.CMaxExploration)),
		MaxValues:            viper.GetInt(g.KeyOf(config.CMaxValues)),
		RestrictDestinations: viper.GetBool(g.KeyOf(config.CRestrict)),
	}
}

// decodeBytecode accepts hex, with or without 0x, and falls back to raw bytes.
func decodeBytecode(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(digits) > 0 && strings.Trim(digits, "0123456789abcdefABCDEF") == "" {
		return common.FromHex(s)
	}
	return raw
}

// parseEntries turns entry addresses into analysis entries keyed by address.
func parseEntries(strs []string) ([]analysis.Entry, error) {
	entries := []analysis.Entry{{PC: 0, Key: cfg.Dispatcher}}
	for _, s := range strs {
		pc, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid entry %q", s)
		}
		entries = append(entries, analysis.Entry{PC: pc, Key: cfg.FunctionKey(pc)})
	}
	return entries, nil
}

func run(file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "read bytecode")
	}
	code := decodeBytecode(raw)

	jt, err := vm.InstructionSet(viper.GetString(config.CFork.Key))
	if err != nil {
		return err
	}
	graph, err := cfg.NewWithInstructionSet(code, jt)
	if err != nil {
		return errors.Wrap(err, "build basic blocks")
	}
	entries, err := parseEntries(viper.GetStringSlice(config.AnalysisGroup.KeyOf(config.CEntries)))
	if err != nil {
		return err
	}
	log.Debug().
		Str("file", file).
		Int("size", len(code)).
		Int("blocks", len(graph.BasicBlocks())).
		Msg("Bytecode loaded")

	analyzer := analysis.NewAnalyzer(analysisConfig(), viper.GetInt(config.CParallelism.Key))
	results, err := analyzer.AnalyzeAll(global.Ctx(), graph, entries)
	if err != nil {
		return err
	}
	printReport(os.Stdout, graph, results)
	return nil
}
