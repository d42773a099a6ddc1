// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg binds the mount command's flags to a Config, decoded through
// viper so that the same keys can come from a config file or the command
// line. Environment variables are not read.
package cfg

import (
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DeviceConfig is the subset of the remote Device record the mount command
// needs before the Document Store Client and Binary Cache can be built.
type DeviceConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	URL      string `yaml:"url" mapstructure:"url"`
	Password string `yaml:"password" mapstructure:"password"`
}

// DebugConfig controls the logging subsystem.
type DebugConfig struct {
	LogFormat string `yaml:"log-format" mapstructure:"log-format"`
	LogLevel  string `yaml:"log-level" mapstructure:"log-level"`
	LogFile   string `yaml:"log-file" mapstructure:"log-file"`
}

// Config is the fully resolved configuration for a single mount.
type Config struct {
	Device     DeviceConfig `yaml:"device" mapstructure:"device"`
	MountPoint string       `yaml:"mount-point" mapstructure:"mount-point"`
	CacheDir   string       `yaml:"cache-dir" mapstructure:"cache-dir"`
	FileMode   Octal        `yaml:"file-mode" mapstructure:"file-mode"`
	DirMode    Octal        `yaml:"dir-mode" mapstructure:"dir-mode"`

	Debug DebugConfig `yaml:"debug" mapstructure:"debug"`
}

// BindFlags registers the mount command's flags and binds each to the
// corresponding viper key, so Decode below reflects flags, then config file,
// then flag defaults, in that order of precedence.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("url", "", "", "Base URL of the remote document store for this device.")
	if err = viper.BindPFlag("device.url", flagSet.Lookup("url")); err != nil {
		return err
	}

	flagSet.StringP("password", "", "", "Password used to authenticate against the remote document store.")
	if err = viper.BindPFlag("device.password", flagSet.Lookup("password")); err != nil {
		return err
	}

	flagSet.StringP("cache-dir", "", "", "Directory under which binary content is cached locally.")
	if err = viper.BindPFlag("cache-dir", flagSet.Lookup("cache-dir")); err != nil {
		return err
	}

	flagSet.StringP("file-mode", "", "0664", "Octal permission bits reported for regular files.")
	if err = viper.BindPFlag("file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.StringP("dir-mode", "", "0775", "Octal permission bits reported for directories.")
	if err = viper.BindPFlag("dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log handler format: text or json.")
	if err = viper.BindPFlag("debug.log-format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-level", "", "INFO", "Minimum severity logged: OFF, ERROR, WARNING, INFO, DEBUG, TRACE.")
	if err = viper.BindPFlag("debug.log-level", flagSet.Lookup("log-level")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Log output file, or empty for stderr.")
	if err = viper.BindPFlag("debug.log-file", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	return nil
}

// Decode materializes a Config from the current viper state, using
// mapstructure directly (rather than viper.Unmarshal's default decoder) so
// callers can attach the same decode hooks the generated config layer
// relies on, such as octal-permission parsing, without pulling that
// machinery in for a config shape this small.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       DecodeHook(),
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
