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
	"fmt"
	"os/exec"
	"runtime"

	"github.com/cozy/cozyfuse/internal/logger"
	"github.com/spf13/cobra"
)

var unmountCmd = &cobra.Command{
	Use:   "unmount <mount_path>",
	Short: "Unmount a previously mounted device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint := args[0]

		var c *exec.Cmd
		switch runtime.GOOS {
		case "darwin", "freebsd":
			c = exec.Command("umount", mountPoint)
		default:
			c = exec.Command("fusermount", "-u", mountPoint)
		}

		if out, err := c.CombinedOutput(); err != nil {
			return fmt.Errorf("unmount %s: %w: %s", mountPoint, err, out)
		}

		logger.Infof("Unmounted %s", mountPoint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unmountCmd)
}
