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
	"os"
	"sort"

	"github.com/cozy/cozyfuse/docstore"
	"github.com/cozy/cozyfuse/internal/driverfs"
	"github.com/cozy/cozyfuse/pathutil"
	"github.com/google/uuid"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// dirHandle buffers the listing produced by the first ReadDir call at
// offset zero; later calls at nonzero offsets serve out of the buffer.
type dirHandle struct {
	entries []fuseutil.Dirent
}

// listing queries both child collections for parentPath, merges and sorts
// them ascending byte-wise by leaf name, primes the name cache and each
// child's attribute cache as a side effect, and returns the leaf names.
func (s *Server) listing(ctx context.Context, parentPath string) ([]string, error) {
	if names, ok := s.nameCache.Get(parentPath); ok {
		return names, nil
	}

	folders, err := s.docs.ChildFolders(ctx, parentPath)
	if err != nil {
		return nil, err
	}
	files, err := s.docs.ChildFiles(ctx, parentPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(folders)+len(files))
	for i := range folders {
		f := &folders[i]
		names = append(names, f.Name)
		s.attrCache.Set(f.FullPath(), cachedAttr{s.folderAttributes(f), kindFolder})
	}
	for i := range files {
		f := &files[i]
		names = append(names, f.Name)
		s.attrCache.Set(f.FullPath(), cachedAttr{s.fileAttributes(f), kindFile})
	}
	sort.Strings(names)

	s.nameCache.Set(parentPath, names)
	return names, nil
}

func (s *Server) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	s.mu.Lock()
	_, err := s.recordForInode(op.Inode)
	id := s.nextHandleID
	s.nextHandleID++
	if err == nil {
		s.handles[id] = &dirHandle{}
		op.Handle = id
	}
	s.mu.Unlock()

	return driverfs.ToErrno(err)
}

func (s *Server) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	s.mu.Lock()
	rec, err := s.recordForInode(op.Inode)
	raw, ok := s.handles[op.Handle]
	s.mu.Unlock()
	if err != nil {
		return driverfs.ToErrno(err)
	}
	if !ok {
		return driverfs.ToErrno(driverfs.NotFound("fs: unknown directory handle"))
	}
	dh := raw.(*dirHandle)

	if op.Offset == 0 {
		names, err := s.listing(ctx, rec.path)
		if err != nil {
			return driverfs.ToErrno(err)
		}

		entries := make([]fuseutil.Dirent, 0, len(names)+2)
		entries = append(entries,
			fuseutil.Dirent{Offset: 1, Inode: rec.id, Name: ".", Type: fuseutil.DT_Directory},
			fuseutil.Dirent{Offset: 2, Inode: fuseops.RootInodeID, Name: "..", Type: fuseutil.DT_Directory},
		)
		for i, name := range names {
			childPath := pathutil.Join(rec.path, name)
			kind := kindFile
			if cached, ok := s.attrCache.Get(childPath); ok {
				kind = cached.kind
			}
			dt := fuseutil.DT_File
			if kind == kindFolder {
				dt = fuseutil.DT_Directory
			}

			s.mu.Lock()
			child := s.recordForPath(childPath, kind)
			s.mu.Unlock()

			entries = append(entries, fuseutil.Dirent{
				Offset: fuseops.DirOffset(i + 3),
				Inode:  child.id,
				Name:   name,
				Type:   dt,
			})
		}
		dh.entries = entries
	}

	index := int(op.Offset)
	for index < len(dh.entries) {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dh.entries[index])
		if n == 0 {
			break
		}
		op.BytesRead += n
		index++
	}

	return nil
}

func (s *Server) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	s.mu.Lock()
	delete(s.handles, op.Handle)
	s.mu.Unlock()
	return nil
}

func (s *Server) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	s.mu.Lock()
	parent, err := s.recordForInode(op.Parent)
	s.mu.Unlock()
	if err != nil {
		return driverfs.ToErrno(err)
	}

	childPath := pathutil.Join(parent.path, op.Name)
	if existing, err := s.docs.GetFolder(ctx, childPath); err != nil {
		return driverfs.ToErrno(err)
	} else if existing != nil {
		return driverfs.ToErrno(driverfs.AlreadyExists("fs: " + childPath + " already exists"))
	}

	now := docstore.Now(s.clock.Now())
	created, err := s.docs.CreateFolder(ctx, &docstore.Folder{
		Name:             op.Name,
		Path:             parent.path,
		CreationDate:     now,
		LastModification: now,
	})
	if err != nil {
		return driverfs.ToErrno(err)
	}

	s.touchParent(ctx, parent.path)
	attrs := s.folderAttributes(created)
	s.attrCache.Set(childPath, cachedAttr{attrs, kindFolder})
	s.addToListing(parent.path, op.Name)

	s.mu.Lock()
	rec := s.recordForPath(childPath, kindFolder)
	s.mu.Unlock()

	op.Entry = fuseops.ChildInodeEntry{
		Child:                rec.id,
		Attributes:           attrs,
		AttributesExpiration: s.clock.Now().Add(attrTTL),
		EntryExpiration:      s.clock.Now().Add(attrTTL),
	}
	return nil
}

// mknod creates the Binary and File documents backing a new regular file,
// per §4.5: empty binary first, then the File referencing it, size reset to
// zero, parent touched.
func (s *Server) mknod(ctx context.Context, parentPath, name string) (*docstore.File, error) {
	childPath := pathutil.Join(parentPath, name)
	if existing, err := s.docs.GetFile(ctx, childPath); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, driverfs.AlreadyExists("fs: " + childPath + " already exists")
	}

	binID, binRev, err := s.docs.CreateBinary(ctx)
	if err != nil {
		return nil, err
	}

	now := docstore.Now(s.clock.Now())
	f := &docstore.File{
		Name:             name,
		Path:             parentPath,
		Mime:             guessMime(name),
		Size:             0,
		CreationDate:     now,
		LastModification: now,
	}
	f.Binary.File = docstore.BinaryRef{ID: binID, Rev: binRev}

	created, err := s.docs.CreateFile(ctx, f)
	if err != nil {
		return nil, err
	}

	s.touchParent(ctx, parentPath)
	s.attrCache.Set(childPath, cachedAttr{s.fileAttributes(created), kindFile})
	s.addToListing(parentPath, name)

	return created, nil
}

func (s *Server) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	s.mu.Lock()
	parent, err := s.recordForInode(op.Parent)
	s.mu.Unlock()
	if err != nil {
		return driverfs.ToErrno(err)
	}

	created, err := s.mknod(ctx, parent.path, op.Name)
	if err != nil {
		return driverfs.ToErrno(err)
	}

	childPath := created.FullPath()

	if err := s.binary.Add(ctx, childPath, []byte{}); err != nil {
		return driverfs.ToErrno(err)
	}
	f, err := s.binary.Get(ctx, childPath, os.O_RDWR, 0644)
	if err != nil {
		return driverfs.ToErrno(err)
	}

	s.mu.Lock()
	rec := s.recordForPath(childPath, kindFile)
	handleID := s.nextHandleID
	s.nextHandleID++
	s.handles[handleID] = &fileHandle{path: childPath, file: f, writable: true, openGen: uuid.NewString()}
	s.mu.Unlock()

	op.Entry = fuseops.ChildInodeEntry{
		Child:                rec.id,
		Attributes:           s.fileAttributes(created),
		AttributesExpiration: s.clock.Now().Add(attrTTL),
		EntryExpiration:      s.clock.Now().Add(attrTTL),
	}
	op.Handle = handleID
	return nil
}

// MkNod handles mknod(2) for a plain file without an accompanying open.
func (s *Server) MkNod(ctx context.Context, op *fuseops.MkNodOp) error {
	s.mu.Lock()
	parent, err := s.recordForInode(op.Parent)
	s.mu.Unlock()
	if err != nil {
		return driverfs.ToErrno(err)
	}

	created, err := s.mknod(ctx, parent.path, op.Name)
	if err != nil {
		return driverfs.ToErrno(err)
	}

	s.mu.Lock()
	rec := s.recordForPath(created.FullPath(), kindFile)
	s.mu.Unlock()

	op.Entry = fuseops.ChildInodeEntry{
		Child:                rec.id,
		Attributes:           s.fileAttributes(created),
		AttributesExpiration: s.clock.Now().Add(attrTTL),
		EntryExpiration:      s.clock.Now().Add(attrTTL),
	}
	return nil
}

func (s *Server) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	s.mu.Lock()
	parent, err := s.recordForInode(op.Parent)
	s.mu.Unlock()
	if err != nil {
		return driverfs.ToErrno(err)
	}

	childPath := pathutil.Join(parent.path, op.Name)
	f, err := s.docs.GetFile(ctx, childPath)
	if err != nil {
		return driverfs.ToErrno(err)
	}
	if f == nil {
		return driverfs.ToErrno(driverfs.NotFound("fs: " + childPath + " not found"))
	}

	if err := s.binary.Remove(ctx, childPath); err != nil {
		return driverfs.ToErrno(err)
	}
	if err := s.docs.DeleteBinary(ctx, f.Binary.File.ID, f.Binary.File.Rev); err != nil {
		return driverfs.ToErrno(err)
	}
	if err := s.docs.DeleteFile(ctx, f); err != nil {
		return driverfs.ToErrno(err)
	}

	s.attrCache.Delete(childPath)
	s.removeFromListing(parent.path, op.Name)
	s.touchParent(ctx, parent.path)
	return nil
}

func (s *Server) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	s.mu.Lock()
	parent, err := s.recordForInode(op.Parent)
	s.mu.Unlock()
	if err != nil {
		return driverfs.ToErrno(err)
	}

	childPath := pathutil.Join(parent.path, op.Name)
	folder, err := s.docs.GetFolder(ctx, childPath)
	if err != nil {
		return driverfs.ToErrno(err)
	}
	if folder == nil {
		return driverfs.ToErrno(driverfs.NotFound("fs: " + childPath + " not found"))
	}

	if err := s.docs.DeleteFolder(ctx, folder); err != nil {
		return driverfs.ToErrno(err)
	}

	s.attrCache.Delete(childPath)
	s.nameCache.Delete(childPath)
	s.removeFromListing(parent.path, op.Name)
	s.touchParent(ctx, parent.path)
	return nil
}
