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

package cfg

import (
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsAndDecode(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	require.NoError(t, BindFlags(fs))

	require.NoError(t, fs.Parse([]string{
		"--url=https://example.cozycloud.cc",
		"--password=hunter2",
		"--cache-dir=/tmp/cozyfuse-cache",
		"--file-mode=0640",
		"--dir-mode=0750",
		"--log-level=DEBUG",
	}))

	got, err := Decode(viper.GetViper())
	require.NoError(t, err)

	assert.Equal(t, "https://example.cozycloud.cc", got.Device.URL)
	assert.Equal(t, "hunter2", got.Device.Password)
	assert.Equal(t, "/tmp/cozyfuse-cache", got.CacheDir)
	assert.Equal(t, Octal(0640), got.FileMode)
	assert.Equal(t, Octal(0750), got.DirMode)
	assert.Equal(t, "DEBUG", got.Debug.LogLevel)
}

func TestBindFlagsDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	require.NoError(t, fs.Parse(nil))

	got, err := Decode(viper.GetViper())
	require.NoError(t, err)

	assert.Equal(t, Octal(0664), got.FileMode)
	assert.Equal(t, Octal(0775), got.DirMode)
	assert.Equal(t, "text", got.Debug.LogFormat)
	assert.Equal(t, "INFO", got.Debug.LogLevel)
}
