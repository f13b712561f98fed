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
	"os"
	"strings"

	"github.com/spf13/viper"
)

func init() {
	loadConfigFile()
	loadEnv()
	loadFlags()
}

// loadConfigFile loads the config file as EVMCFG_CONFIG env variable specifies (default: evmcfg.yaml).
func loadConfigFile() {
	if configFile, exist := os.LookupEnv("EVMCFG_CONFIG"); exist {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("evmcfg")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	// the config file is optional, keys can come from flags or env variables
	_ = viper.ReadInConfig()
}

func loadEnv() {
	viper.SetEnvPrefix("EVMCFG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func loadFlags() {
	setupConfigs(GlobalFlagDefs...)
}
