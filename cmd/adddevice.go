// Copyright 2024 Google LLC
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

package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// ErrNotImplemented is returned by commands that document an operation this
// driver doesn't perform: provisioning a new device (database creation,
// view installation, credential setup) is an administrative task against
// the document store, not something a FUSE mount process does.
var ErrNotImplemented = errors.New("not implemented: provision the device against its document store directly")

var addDeviceCmd = &cobra.Command{
	Use:   "add-device <device>",
	Short: "Register a new device (not implemented)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ErrNotImplemented
	},
}

func init() {
	rootCmd.AddCommand(addDeviceCmd)
}
