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

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOctalDecodeHook(t *testing.T) {
	type target struct {
		Mode Octal
	}

	var out target
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &out,
		DecodeHook: DecodeHook(),
	})
	require.NoError(t, err)

	require.NoError(t, decoder.Decode(map[string]interface{}{"mode": "0775"}))
	assert.Equal(t, Octal(0775), out.Mode)
}

func TestOctalDecodeHookInvalid(t *testing.T) {
	type target struct {
		Mode Octal
	}

	var out target
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &out,
		DecodeHook: DecodeHook(),
	})
	require.NoError(t, err)

	assert.Error(t, decoder.Decode(map[string]interface{}{"mode": "not-octal"}))
}
