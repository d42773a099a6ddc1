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
	"errors"
	"io"
	"os"

	"github.com/cozy/cozyfuse/internal/driverfs"
	"github.com/cozy/cozyfuse/internal/logger"
	"github.com/google/uuid"
	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"
)

// fileHandle is the open-FD cache entry: an OS file descriptor into the
// binary cache file, live between OpenFile/CreateFile and
// ReleaseFileHandle. openGen is a token minted fresh for each open,
// distinguishing this handle's lifetime from any other handle a rename or
// a later open might install against the same path.
type fileHandle struct {
	path     string
	file     *os.File
	writable bool
	openGen  string
}

// accessMode extracts the open(2) access-mode bits from a kernel-supplied
// flags word, tolerating either a raw uint32 or the bazilfuse-derived
// OpenFlags the kernel layer hands us, both of which mirror the standard
// O_RDONLY/O_WRONLY/O_RDWR encoding.
func accessMode(flags uint32) int {
	return int(flags) & unix.O_ACCMODE
}

func (s *Server) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	s.mu.Lock()
	rec, err := s.recordForInode(op.Inode)
	s.mu.Unlock()
	if err != nil {
		return driverfs.ToErrno(err)
	}

	mode := accessMode(uint32(op.Flags))

	var osFlags int
	var writable bool
	switch mode {
	case unix.O_RDONLY:
		osFlags = os.O_RDONLY
	case unix.O_WRONLY:
		osFlags = os.O_WRONLY
		writable = true
	case unix.O_RDWR:
		osFlags = os.O_RDWR
		writable = true
	default:
		return driverfs.ToErrno(driverfs.Invalid("fs: unsupported open flags"))
	}

	cached, err := s.binary.IsCached(ctx, rec.path)
	if err != nil {
		return driverfs.ToErrno(err)
	}
	if !cached {
		// A write-only open must start from an empty cache file, not a
		// fetch of remote content: it's about to be overwritten, and
		// fetching it first means failing the open outright whenever the
		// binary endpoint returns non-200.
		var seed []byte
		if mode == unix.O_WRONLY {
			seed = []byte{}
		}
		if err := s.binary.Add(ctx, rec.path, seed); err != nil {
			return driverfs.ToErrno(err)
		}
	}

	f, err := s.binary.Get(ctx, rec.path, osFlags, 0644)
	if err != nil {
		return driverfs.ToErrno(err)
	}

	s.mu.Lock()
	id := s.nextHandleID
	s.nextHandleID++
	s.handles[id] = &fileHandle{path: rec.path, file: f, writable: writable, openGen: uuid.NewString()}
	s.mu.Unlock()

	op.Handle = id
	return nil
}

func (s *Server) handleFor(id fuseops.HandleID) (*fileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.handles[id]
	if !ok {
		return nil, driverfs.NotFound("fs: unknown file handle")
	}
	fh, ok := raw.(*fileHandle)
	if !ok {
		return nil, driverfs.Invalid("fs: handle is not a file handle")
	}
	return fh, nil
}

func (s *Server) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fh, err := s.handleFor(op.Handle)
	if err != nil {
		return driverfs.ToErrno(err)
	}

	n, err := fh.file.ReadAt(op.Dst, op.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return driverfs.ToErrno(driverfs.IoError("fs: read", err))
	}
	op.BytesRead = n
	return nil
}

func (s *Server) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fh, err := s.handleFor(op.Handle)
	if err != nil {
		return driverfs.ToErrno(err)
	}

	if _, err := fh.file.WriteAt(op.Data, op.Offset); err != nil {
		return driverfs.ToErrno(driverfs.IoError("fs: write", err))
	}

	if info, err := fh.file.Stat(); err == nil {
		if cached, ok := s.attrCache.Get(fh.path); ok {
			cached.attrs.Size = uint64(info.Size())
			cached.attrs.Mtime = s.clock.Now()
			s.attrCache.Set(fh.path, cached)
		}
	}
	return nil
}

// ReleaseFileHandle closes the cache file descriptor and, for a file that
// was opened writable, writes the definitive size back to the document
// store before dropping the handle.
func (s *Server) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	s.mu.Lock()
	raw, ok := s.handles[op.Handle]
	delete(s.handles, op.Handle)
	s.mu.Unlock()

	if !ok {
		return driverfs.ToErrno(driverfs.NotFound("fs: unknown file handle"))
	}
	fh := raw.(*fileHandle)
	defer fh.file.Close()
	logger.Tracef("fs: releasing handle for %s (open-generation %s)", fh.path, fh.openGen)

	if fh.writable {
		if _, err := s.binary.UpdateSize(ctx, fh.path); err != nil {
			return driverfs.ToErrno(err)
		}
		s.attrCache.Delete(fh.path)
	}
	return nil
}

// SyncFile and FlushFile are no-ops: every write already lands on the
// on-disk cache file synchronously, and size writeback happens at release.
func (s *Server) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (s *Server) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}
