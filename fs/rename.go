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
	"github.com/cozy/cozyfuse/internal/driverfs"
	"github.com/cozy/cozyfuse/pathutil"
	"github.com/jacobsa/fuse/fuseops"
)

// renameJob is one unit of work in the iterative rename queue: move
// whatever lives at from to the logical key (toParent, toName).
type renameJob struct {
	from     string
	toParent string
	toName   string
}

func (s *Server) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	s.mu.Lock()
	oldParent, err := s.recordForInode(op.OldParent)
	var newParent *inodeRecord
	if err == nil {
		newParent, err = s.recordForInode(op.NewParent)
	}
	s.mu.Unlock()
	if err != nil {
		return driverfs.ToErrno(err)
	}

	from := pathutil.Join(oldParent.path, op.OldName)

	queue := []renameJob{{from: from, toParent: newParent.path, toName: op.NewName}}
	moved := false

	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]

		to := pathutil.Join(job.toParent, job.toName)

		if folder, err := s.docs.GetFolder(ctx, job.from); err != nil {
			return driverfs.ToErrno(err)
		} else if folder != nil {
			moved = true
			folder.Path = job.toParent
			folder.Name = job.toName
			folder.LastModification = docstore.Now(s.clock.Now())
			if _, err := s.docs.UpdateFolder(ctx, folder); err != nil {
				return driverfs.ToErrno(err)
			}

			s.movePathState(job.from, to, kindFolder)

			children, err := s.children(ctx, job.from, to)
			if err != nil {
				return driverfs.ToErrno(err)
			}
			queue = append(queue, children...)
			continue
		}

		f, err := s.docs.GetFile(ctx, job.from)
		if err != nil {
			return driverfs.ToErrno(err)
		}
		if f == nil {
			if job.from == from {
				return driverfs.ToErrno(driverfs.NotFound("fs: " + from + " not found"))
			}
			continue
		}

		moved = true
		f.Path = job.toParent
		f.Name = job.toName
		f.LastModification = docstore.Now(s.clock.Now())
		if _, err := s.docs.UpdateFile(ctx, f); err != nil {
			return driverfs.ToErrno(err)
		}

		s.movePathState(job.from, to, kindFile)
		s.binary.Invalidate(job.from)
	}

	if !moved {
		return driverfs.ToErrno(driverfs.NotFound("fs: " + from + " not found"))
	}

	s.touchParent(ctx, oldParent.path)
	s.touchParent(ctx, newParent.path)
	return nil
}

// children enumerates the immediate file and folder children of oldParent,
// as pending renameJobs that move each one, keeping its leaf name, to live
// under newParent (the folder's just-installed new full path).
func (s *Server) children(ctx context.Context, oldParent, newParent string) ([]renameJob, error) {
	folders, err := s.docs.ChildFolders(ctx, oldParent)
	if err != nil {
		return nil, err
	}
	files, err := s.docs.ChildFiles(ctx, oldParent)
	if err != nil {
		return nil, err
	}

	jobs := make([]renameJob, 0, len(folders)+len(files))
	for i := range folders {
		jobs = append(jobs, renameJob{from: folders[i].FullPath(), toParent: newParent, toName: folders[i].Name})
	}
	for i := range files {
		jobs = append(jobs, renameJob{from: files[i].FullPath(), toParent: newParent, toName: files[i].Name})
	}
	return jobs, nil
}

// movePathState drops every cached reference to oldPath and installs fresh
// bookkeeping under newPath: attribute cache, name caches of both parents,
// document caches, and the inode table so existing file handles keep
// resolving correctly by inode.
func (s *Server) movePathState(oldPath, newPath string, kind entryKind) {
	s.attrCache.Delete(oldPath)
	s.docs.InvalidateFile(oldPath)
	s.docs.InvalidateFolder(oldPath)

	oldParent, oldLeaf := pathutil.Split(oldPath)
	newParent, newLeaf := pathutil.Split(newPath)
	s.removeFromListing(oldParent, oldLeaf)
	s.addToListing(newParent, newLeaf)
	s.nameCache.Delete(oldPath)

	s.mu.Lock()
	if rec, ok := s.inodesByPath[oldPath]; ok {
		delete(s.inodesByPath, oldPath)
		rec.path = newPath
		s.inodesByPath[newPath] = rec
	}
	s.mu.Unlock()
}
