// Copyright 2015 Google Inc. All Rights Reserved.
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

package fs

import (
	"context"

	"github.com/cozy/cozyfuse/docstore"
	"github.com/jacobsa/fuse/fuseops"
)

// megabyte matches couchmount.statfs's own unit (1000 * 1000), not the
// binary mebibyte, since disk_space is reported in decimal megabytes.
const megabyte = 1000 * 1000

// StatFS reports block accounting derived from the device's remote
// disk-space endpoint, memoized across calls so a transient fetch failure
// degrades to the last known value rather than failing df outright.
func (s *Server) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	space, ok := s.diskSpace(ctx)
	if !ok {
		op.BlockSize = statfsBlockSize
		op.Blocks = 1
		op.BlocksFree = 1
		op.BlocksAvailable = 0
		op.Inodes = 0
		op.InodesFree = 0
		return nil
	}

	total := uint64(space.TotalDiskSpace * megabyte / statfsBlockSize)
	free := uint64(space.FreeDiskSpace * megabyte / statfsBlockSize)

	op.BlockSize = statfsBlockSize
	op.Blocks = total
	op.BlocksFree = free
	op.BlocksAvailable = free
	op.Inodes = 0
	op.InodesFree = 0
	return nil
}

// diskSpace fetches the device's current disk-space accounting, falling
// back to the last memoized reading (and then to ok=false) if the remote
// device record is unavailable.
func (s *Server) diskSpace(ctx context.Context) (docstore.DiskSpace, bool) {
	device, err := s.docs.GetDevice(ctx, s.deviceName)
	if err == nil && device != nil {
		s.mu.Lock()
		s.lastDiskSpace = device.DiskSpace
		s.haveDiskSpace = true
		s.mu.Unlock()
		return device.DiskSpace, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDiskSpace, s.haveDiskSpace
}
