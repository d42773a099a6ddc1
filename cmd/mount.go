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
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/cozy/cozyfuse/binarycache"
	"github.com/cozy/cozyfuse/docstore"
	"github.com/cozy/cozyfuse/fs"
	"github.com/cozy/cozyfuse/internal/logger"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"
)

// basicAuthTransport attaches the device's login/password to every request,
// mirroring the replication URL's embedded credentials in the original
// Python implementation.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}

var mountCmd = &cobra.Command{
	Use:   "mount <device> <mount_path>",
	Short: "Mount a device's document store at mount_path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceName, mountPoint := args[0], args[1]

		conf, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		conf.Device.Name = deviceName
		if conf.MountPoint == "" {
			conf.MountPoint = mountPoint
		}

		if err := logger.Init(conf.Debug.LogFormat, conf.Debug.LogLevel, conf.Debug.LogFile); err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}

		if conf.CacheDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolving cache directory: %w", err)
			}
			conf.CacheDir = filepath.Join(home, ".cozyfuse", deviceName)
		}
		if err := os.MkdirAll(filepath.Join(conf.CacheDir, "cache"), 0755); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}

		crashWriter := &CrashWriter{fileName: filepath.Join(conf.CacheDir, "crash.log")}
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(crashWriter, "panic: %v\n%s\n", r, debug.Stack())
				panic(r)
			}
		}()

		httpClient := &http.Client{
			Transport: &basicAuthTransport{
				username: conf.Device.Name,
				password: conf.Device.Password,
				base:     http.DefaultTransport,
			},
		}

		clock := timeutil.RealClock()
		docs := docstore.New(conf.Device.URL, httpClient, clock)
		defer docs.Close()

		binary := binarycache.New(filepath.Join(conf.CacheDir, "cache"), conf.Device.URL, deviceName, docs, httpClient)

		server := fs.New(docs, binary, deviceName, clock, &fs.Options{
			FileMode: os.FileMode(conf.FileMode),
			DirMode:  os.FileMode(conf.DirMode),
		})
		defer server.Close()

		fsName := fmt.Sprintf("cozyfuse-%s", deviceName)
		fuseServer := fuseutil.NewFileSystemServer(server)

		logger.Infof("Mounting %s at %s", fsName, conf.MountPoint)
		mfs, err := fuse.Mount(conf.MountPoint, fuseServer, &fuse.MountConfig{
			FSName:  fsName,
			Subtype: "cozyfuse",
		})
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}

		if err := mfs.Join(context.Background()); err != nil {
			return fmt.Errorf("serving file system: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mountCmd)
}
