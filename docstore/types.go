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

// Package docstore is a thin typed wrapper over the remote document
// database: CRUD on File and Folder documents, queries by parent path and
// by full path, and attachment upload. It maintains in-process document
// caches to elide network round-trips on the hot lookup/getattr path.
package docstore

import "time"

// BinaryRef is the embedded reference a File document carries to its
// Binary, including the revision token captured at link time.
type BinaryRef struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// File is the document shape described by the external interface: a file's
// metadata plus a reference to the Binary holding its content.
type File struct {
	ID   string `json:"_id,omitempty"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"docType"`

	Name             string    `json:"name"`
	Path             string    `json:"path"`
	Mime             string    `json:"mime,omitempty"`
	Size             int64     `json:"size"`
	CreationDate     Timestamp `json:"creationDate"`
	LastModification Timestamp `json:"lastModification"`
	Binary           struct {
		File BinaryRef `json:"file"`
	} `json:"binary"`
	Storage []string `json:"storage,omitempty"`
}

// FullPath is the canonical (parent_path, name) key this File occupies.
func (f *File) FullPath() string {
	return joinPath(f.Path, f.Name)
}

// HasStorage reports whether device is present in the storage set.
func (f *File) HasStorage(device string) bool {
	for _, d := range f.Storage {
		if d == device {
			return true
		}
	}
	return false
}

// Folder is the document shape for a directory entry.
type Folder struct {
	ID   string `json:"_id,omitempty"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"docType"`

	Name             string    `json:"name"`
	Path             string    `json:"path"`
	CreationDate     Timestamp `json:"creationDate"`
	LastModification Timestamp `json:"lastModification"`
}

// FullPath is the canonical (parent_path, name) key this Folder occupies.
func (f *Folder) FullPath() string {
	return joinPath(f.Path, f.Name)
}

// Binary is an attachment-bearing document; the attachment itself (named
// "file") is uploaded and fetched separately over HTTP.
type Binary struct {
	ID   string `json:"_id,omitempty"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"docType"`
}

// DiskSpace mirrors the remote disk-space accounting used by statfs.
type DiskSpace struct {
	TotalDiskSpace float64 `json:"totalDiskSpace"`
	FreeDiskSpace  float64 `json:"freeDiskSpace"`
	UsedDiskSpace  float64 `json:"usedDiskSpace"`
}

// Device is the external, read-only device record. The driver never mutates
// it; statfs keeps its own copy of the last DiskSpace it read as a fallback.
type Device struct {
	ID   string `json:"_id,omitempty"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"docType"`

	Login     string    `json:"login"`
	URL       string    `json:"url"`
	Password  string    `json:"password,omitempty"`
	DiskSpace DiskSpace `json:"diskSpace"`

	// memoizedAt is not written or read anywhere in this module.
	memoizedAt time.Time
}

func joinPath(parent, name string) string {
	if parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}
