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

// Package binarycache is the on-disk, content-addressed cache of file
// content keyed by binary id. It fetches attachments lazily over HTTP,
// write-through for local modifications, and coordinates file-size
// writeback to the document store.
package binarycache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cozy/cozyfuse/docstore"
	"github.com/cozy/cozyfuse/internal/driverfs"
	"github.com/cozy/cozyfuse/pathutil"
	"github.com/cozy/cozyfuse/ttlcache"
	"github.com/google/uuid"
)

// chunkSize bounds per-chunk memory for the remote HTTP fetch, per the
// concurrency and resource model: the implementation streams large bodies
// and must bound per-chunk memory to 1 KiB.
const chunkSize = 1024

// Metadata resolves a filesystem path to the File document, the binary id
// backing its content, and the path of its on-disk cache file.
type Metadata struct {
	File          *docstore.File
	BinaryID      string
	CacheFilePath string
}

// Cache is the on-disk cache of file content. It owns cachePath exclusively;
// no other component writes under it.
type Cache struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	docs       *docstore.Client
	httpClient *http.Client

	/////////////////////////
	// Constant data
	/////////////////////////

	cachePath  string // <device_config>/cache
	remoteURL  string // base URL the "file" attachment is fetched from
	deviceName string

	/////////////////////////
	// Mutable state
	/////////////////////////

	// metadata, memoized per path. Stable across a file's lifetime except
	// across rename, where the caller must invalidate the old key.
	metadataCache *ttlcache.Cache[string, *Metadata]
}

func New(cachePath, remoteURL, deviceName string, docs *docstore.Client, httpClient *http.Client) *Cache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Cache{
		docs:          docs,
		httpClient:    httpClient,
		cachePath:     cachePath,
		remoteURL:     remoteURL,
		deviceName:    deviceName,
		metadataCache: ttlcache.New[string, *Metadata](0, 0),
	}
}

// Metadata resolves (file_doc, binary_id, cache_file_path) for path,
// consulting the metadata cache before the Document Store Client on miss.
func (c *Cache) Metadata(ctx context.Context, path string) (*Metadata, error) {
	norm := pathutil.Normalize(path)
	if m, ok := c.metadataCache.Get(norm); ok {
		return m, nil
	}

	f, err := c.docs.GetFile(ctx, norm)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, driverfs.NotFound("binarycache: no file at " + norm)
	}

	binaryID := f.Binary.File.ID
	m := &Metadata{
		File:          f,
		BinaryID:      binaryID,
		CacheFilePath: filepath.Join(c.cachePath, binaryID, "file"),
	}
	c.metadataCache.Set(norm, m)
	return m, nil
}

// IsCached reports whether a valid cache file already exists for path.
func (c *Cache) IsCached(ctx context.Context, path string) (bool, error) {
	m, err := c.Metadata(ctx, path)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(m.CacheFilePath)
	return statErr == nil, nil
}

// Get opens the cache file for path with the given flags.
func (c *Cache) Get(ctx context.Context, path string, flag int, perm os.FileMode) (*os.File, error) {
	m, err := c.Metadata(ctx, path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(m.CacheFilePath, flag, perm)
	if err != nil {
		return nil, driverfs.IoError("binarycache: opening cache file", err)
	}
	return f, nil
}

// ensureDir makes the per-binary cache directory, idempotently.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return driverfs.IoError("binarycache: creating cache directory", err)
	}
	return nil
}

// Add populates the cache file for path. If data is non-nil (including
// empty), it is written verbatim. Otherwise the binary is fetched over HTTP
// from the remote endpoint in 1 KiB chunks, file_doc.size is refreshed from
// the resulting file length, and the local device name is recorded in the
// File's storage set.
func (c *Cache) Add(ctx context.Context, path string, data []byte) error {
	m, err := c.Metadata(ctx, path)
	if err != nil {
		return err
	}

	if err := ensureDir(filepath.Dir(m.CacheFilePath)); err != nil {
		return err
	}

	if data != nil {
		if err := os.WriteFile(m.CacheFilePath, data, 0644); err != nil {
			return driverfs.IoError("binarycache: writing cache file", err)
		}
		return nil
	}

	return c.fetch(ctx, m)
}

func (c *Cache) fetch(ctx context.Context, m *Metadata) error {
	url := fmt.Sprintf("%s/%s/file", c.remoteURL, m.BinaryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return driverfs.IoError("binarycache: building fetch request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return driverfs.RemoteUnavailable("binarycache: fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return driverfs.IoError("not stored in local database", nil)
	}

	// Stage the download under a unique name next to the final cache file
	// and rename into place once complete, so a concurrent reader never
	// observes a partially-written cache file.
	stagingPath := m.CacheFilePath + ".tmp-" + uuid.NewString()
	out, err := os.OpenFile(stagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return driverfs.IoError("binarycache: creating cache file", err)
	}

	buf := make([]byte, chunkSize)
	// Hide *os.File's ReaderFrom so CopyBuffer actually uses buf.
	_, copyErr := io.CopyBuffer(struct{ io.Writer }{out}, struct{ io.Reader }{resp.Body}, buf)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(stagingPath)
		return driverfs.IoError("binarycache: streaming fetch", copyErr)
	}
	if closeErr != nil {
		os.Remove(stagingPath)
		return driverfs.IoError("binarycache: closing cache file", closeErr)
	}
	if err := os.Rename(stagingPath, m.CacheFilePath); err != nil {
		os.Remove(stagingPath)
		return driverfs.IoError("binarycache: staging cache file", err)
	}

	info, statErr := os.Stat(m.CacheFilePath)
	if statErr != nil {
		return driverfs.IoError("binarycache: stat cache file", statErr)
	}

	m.File.Size = info.Size()
	if _, err := c.docs.UpdateFile(ctx, m.File); err != nil {
		return err
	}
	return c.markStored(ctx, m.File)
}

func (c *Cache) markStored(ctx context.Context, f *docstore.File) error {
	if f.HasStorage(c.deviceName) {
		return nil
	}
	f.Storage = append(f.Storage, c.deviceName)
	_, err := c.docs.UpdateFile(ctx, f)
	return err
}

func (c *Cache) markNotStored(ctx context.Context, f *docstore.File) error {
	kept := f.Storage[:0]
	for _, d := range f.Storage {
		if d != c.deviceName {
			kept = append(kept, d)
		}
	}
	f.Storage = kept
	_, err := c.docs.UpdateFile(ctx, f)
	return err
}

// Update opens the cache file in append mode and writes data. The offset
// parameter is accepted for API compatibility; actual positioning for
// random-access writes happens at the Filesystem Driver layer through the
// open file-descriptor cache.
func (c *Cache) Update(ctx context.Context, path string, data []byte, offset int64) error {
	f, err := c.Get(ctx, path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return driverfs.IoError("binarycache: append write", err)
	}
	return nil
}

// UpdateSize reads the current on-disk length of path's cache file and
// writes it into the File document, refreshing the metadata cache. Returns
// the new size. This is the source of truth for size between mknod and
// release.
func (c *Cache) UpdateSize(ctx context.Context, path string) (int64, error) {
	m, err := c.Metadata(ctx, path)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(m.CacheFilePath)
	if err != nil {
		return 0, driverfs.IoError("binarycache: stat cache file", err)
	}

	m.File.Size = info.Size()
	updated, err := c.docs.UpdateFile(ctx, m.File)
	if err != nil {
		return 0, err
	}

	m.File = updated
	c.metadataCache.Set(pathutil.Normalize(path), m)
	return updated.Size, nil
}

// Remove deletes the per-binary cache directory recursively, drops the
// metadata cache entry, and removes the local device name from storage.
func (c *Cache) Remove(ctx context.Context, path string) error {
	m, err := c.Metadata(ctx, path)
	if err != nil {
		return err
	}

	if rmErr := os.RemoveAll(filepath.Dir(m.CacheFilePath)); rmErr != nil {
		return driverfs.IoError("binarycache: removing cache directory", rmErr)
	}
	c.metadataCache.Delete(pathutil.Normalize(path))

	return c.markNotStored(ctx, m.File)
}

// Invalidate drops the metadata cache entry for path without touching the
// on-disk cache or the document store; used by rename, which installs a
// fresh entry under the new path.
func (c *Cache) Invalidate(path string) {
	c.metadataCache.Delete(pathutil.Normalize(path))
}
