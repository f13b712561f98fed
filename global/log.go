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


package global

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/pbwaffles/evm-cfg-builder/config"
)

// SetupLog configures the global logger from the log.* keys.
func SetupLog() {
	out := viper.GetString(config.CLogFile.Key)
	loc := viper.GetBool(config.CLogLocation.Key)
	level := viper.GetUint(config.CLogLevel.Key)
	zerolog.SetGlobalLevel(zerolog.Level(level))
	splits := strings.Split(out, ";")
	writers := make([]io.Writer, 0)
	for _, split := range splits {
		switch split {
		case "stdout":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
		case "stderr":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		default:
			f, err := os.OpenFile(split, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to open log file")
			}
			RegisterCleanupTask(func() { _ = f.Close() })
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	multiWriter := zerolog.MultiLevelWriter(writers...)
	loggerBuilder := zerolog.New(multiWriter).With()
	if loc {
		loggerBuilder = loggerBuilder.Caller()
	}
	loggerBuilder = loggerBuilder.Timestamp()
	log.Logger = loggerBuilder.Logger() // we use global logger
}
