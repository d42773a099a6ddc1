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

package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cozy/cozyfuse/internal/driverfs"
	"github.com/cozy/cozyfuse/pathutil"
	"github.com/cozy/cozyfuse/ttlcache"
	"github.com/jacobsa/timeutil"
)

// Kind distinguishes the two entity views this client queries.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// view names, per the external interface contract: each secondary index
// maps documents of a matching docType as specified by its key expression.
const (
	viewFileByFolder   = "file/byFolder"
	viewFileByFullPath = "file/byFullPath"
	viewFolderByFolder = "folder/byFolder"
	viewFolderByFullPath = "folder/byFullPath"
	viewFileAll   = "file/all"
	viewFolderAll = "folder/all"
	viewDeviceAll = "device/all"
)

// Client is a typed wrapper over the remote document database.
type Client struct {
	httpClient *http.Client
	baseURL    string // http://localhost:<port>/<database>
	clock      timeutil.Clock

	// In-process document caches, no TTL: entries are kept coherent by
	// explicit mutation on every create/update/delete, per the invariants in
	// the specification, not by expiry.
	fileCache   *ttlcache.Cache[string, *File]
	folderCache *ttlcache.Cache[string, *Folder]
}

func New(baseURL string, httpClient *http.Client, clock timeutil.Clock) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		clock:       clock,
		fileCache:   ttlcache.New[string, *File](0, 0),
		folderCache: ttlcache.New[string, *Folder](0, 0),
	}
}

func (c *Client) Close() {
	c.fileCache.Stop()
	c.folderCache.Stop()
}

// ----------------------------------------------------------------------
// Low level HTTP / view plumbing
// ----------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (status int, err error) {
	var reader *bytes.Reader
	if body != nil {
		b, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return 0, driverfs.Invalid(fmt.Sprintf("docstore: encoding request body: %v", marshalErr))
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, driverfs.IoError("docstore: building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, driverfs.RemoteUnavailable("docstore: request failed", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decErr := json.NewDecoder(resp.Body).Decode(out); decErr != nil {
			return resp.StatusCode, driverfs.IoError("docstore: decoding response", decErr)
		}
	}

	return resp.StatusCode, nil
}

type viewRow[T any] struct {
	Key   string `json:"key"`
	Value T      `json:"value"`
}

type viewResult[T any] struct {
	Rows []viewRow[T] `json:"rows"`
}

func (c *Client) queryView(ctx context.Context, view, key string, out interface{}) error {
	q := url.Values{}
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return driverfs.Invalid("docstore: encoding view key")
	}
	q.Set("key", string(keyJSON))

	status, err := c.do(ctx, http.MethodGet, "/_design/"+designDoc(view)+"/_view/"+viewName(view)+"?"+q.Encode(), nil, out)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return driverfs.NotFound(fmt.Sprintf("docstore: view %s returned status %d", view, status))
	}
	return nil
}

func designDoc(view string) string {
	for i := 0; i < len(view); i++ {
		if view[i] == '/' {
			return view[:i]
		}
	}
	return view
}

func viewName(view string) string {
	for i := 0; i < len(view); i++ {
		if view[i] == '/' {
			return view[i+1:]
		}
	}
	return view
}

// ----------------------------------------------------------------------
// File operations
// ----------------------------------------------------------------------

// GetFile returns the File whose logical key equals the normalized path, or
// (nil, nil) if none exists. It consults the file cache before issuing a
// query, per the component contract.
func (c *Client) GetFile(ctx context.Context, path string) (*File, error) {
	norm := pathutil.Normalize(path)
	if f, ok := c.fileCache.Get(norm); ok {
		return f, nil
	}

	var res viewResult[File]
	if err := c.queryView(ctx, viewFileByFullPath, norm, &res); err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}

	f := res.Rows[0].Value
	c.fileCache.Set(norm, &f)
	return &f, nil
}

// CreateFile persists a new File document, then populates the file cache
// under its normalized path and returns the stored document (with its
// assigned _id/_rev).
func (c *Client) CreateFile(ctx context.Context, f *File) (*File, error) {
	f.Type = "File"
	status, err := c.do(ctx, http.MethodPost, "", f, f)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, driverfs.IoError(fmt.Sprintf("docstore: create file status %d", status), nil)
	}

	c.fileCache.Set(f.FullPath(), f)
	return f, nil
}

// UpdateFile re-reads the current revision immediately before saving, to
// minimize the lost-update window, and fails with Conflict if the revision
// has moved since the caller last read it.
//
// On a path change, the caller is responsible for removing the old cache
// key and installing the new one (see the Filesystem Driver's rename path).
func (c *Client) UpdateFile(ctx context.Context, f *File) (*File, error) {
	current, err := c.fetchFileByID(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if current.Rev != f.Rev {
		return nil, driverfs.Conflict(fmt.Sprintf("docstore: file %s revision mismatch", f.ID))
	}

	f.Type = "File"
	status, err := c.do(ctx, http.MethodPut, "/"+f.ID, f, f)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, driverfs.Conflict(fmt.Sprintf("docstore: update file status %d", status))
	}

	c.fileCache.Set(f.FullPath(), f)
	return f, nil
}

// DeleteFile persists the deletion and drops the file cache entry.
func (c *Client) DeleteFile(ctx context.Context, f *File) error {
	status, err := c.do(ctx, http.MethodDelete, "/"+f.ID+"?rev="+f.Rev, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return driverfs.IoError(fmt.Sprintf("docstore: delete file status %d", status), nil)
	}

	c.fileCache.Delete(f.FullPath())
	return nil
}

func (c *Client) fetchFileByID(ctx context.Context, id string) (*File, error) {
	var f File
	status, err := c.do(ctx, http.MethodGet, "/"+id, nil, &f)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, driverfs.NotFound("docstore: file " + id + " not found")
	}
	if status != http.StatusOK {
		return nil, driverfs.IoError(fmt.Sprintf("docstore: get file status %d", status), nil)
	}
	return &f, nil
}

// InvalidateFile drops path from the file cache without touching the
// remote store; used by rename to forget the old key once the new one is
// installed.
func (c *Client) InvalidateFile(path string) {
	c.fileCache.Delete(pathutil.Normalize(path))
}

// ----------------------------------------------------------------------
// Folder operations (symmetric to File)
// ----------------------------------------------------------------------

func (c *Client) GetFolder(ctx context.Context, path string) (*Folder, error) {
	norm := pathutil.Normalize(path)
	if f, ok := c.folderCache.Get(norm); ok {
		return f, nil
	}

	var res viewResult[Folder]
	if err := c.queryView(ctx, viewFolderByFullPath, norm, &res); err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}

	f := res.Rows[0].Value
	c.folderCache.Set(norm, &f)
	return &f, nil
}

func (c *Client) CreateFolder(ctx context.Context, f *Folder) (*Folder, error) {
	f.Type = "Folder"
	status, err := c.do(ctx, http.MethodPost, "", f, f)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, driverfs.IoError(fmt.Sprintf("docstore: create folder status %d", status), nil)
	}

	c.folderCache.Set(f.FullPath(), f)
	return f, nil
}

func (c *Client) UpdateFolder(ctx context.Context, f *Folder) (*Folder, error) {
	var current Folder
	status, err := c.do(ctx, http.MethodGet, "/"+f.ID, nil, &current)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, driverfs.NotFound("docstore: folder " + f.ID + " not found")
	}
	if current.Rev != f.Rev {
		return nil, driverfs.Conflict(fmt.Sprintf("docstore: folder %s revision mismatch", f.ID))
	}

	f.Type = "Folder"
	status, err = c.do(ctx, http.MethodPut, "/"+f.ID, f, f)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, driverfs.Conflict(fmt.Sprintf("docstore: update folder status %d", status))
	}

	c.folderCache.Set(f.FullPath(), f)
	return f, nil
}

func (c *Client) DeleteFolder(ctx context.Context, f *Folder) error {
	status, err := c.do(ctx, http.MethodDelete, "/"+f.ID+"?rev="+f.Rev, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return driverfs.IoError(fmt.Sprintf("docstore: delete folder status %d", status), nil)
	}

	c.folderCache.Delete(f.FullPath())
	return nil
}

func (c *Client) InvalidateFolder(path string) {
	c.folderCache.Delete(pathutil.Normalize(path))
}

// ----------------------------------------------------------------------
// Children / listings
// ----------------------------------------------------------------------

// ChildFiles returns the live File children of parentPath, via the
// file/byFolder secondary index.
func (c *Client) ChildFiles(ctx context.Context, parentPath string) ([]File, error) {
	var res viewResult[File]
	if err := c.queryView(ctx, viewFileByFolder, pathutil.Normalize(parentPath), &res); err != nil {
		return nil, err
	}
	out := make([]File, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = row.Value
	}
	return out, nil
}

// ChildFolders returns the live Folder children of parentPath, via the
// folder/byFolder secondary index.
func (c *Client) ChildFolders(ctx context.Context, parentPath string) ([]Folder, error) {
	var res viewResult[Folder]
	if err := c.queryView(ctx, viewFolderByFolder, pathutil.Normalize(parentPath), &res); err != nil {
		return nil, err
	}
	out := make([]Folder, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = row.Value
	}
	return out, nil
}

// ----------------------------------------------------------------------
// Binary / attachment operations
// ----------------------------------------------------------------------

// CreateBinary creates an empty Binary document and uploads a zero-length
// "file" attachment, returning its id and revision.
func (c *Client) CreateBinary(ctx context.Context) (id, rev string, err error) {
	var b Binary
	b.Type = "Binary"
	status, err := c.do(ctx, http.MethodPost, "", &b, &b)
	if err != nil {
		return "", "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", "", driverfs.IoError(fmt.Sprintf("docstore: create binary status %d", status), nil)
	}

	rev, err = c.PutAttachment(ctx, b.ID, b.Rev, nil)
	if err != nil {
		return "", "", err
	}
	return b.ID, rev, nil
}

// PutAttachment uploads data (possibly empty) as the binary's "file"
// attachment and returns the resulting revision.
func (c *Client) PutAttachment(ctx context.Context, binaryID, rev string, data []byte) (string, error) {
	path := "/" + binaryID + "/file?rev=" + rev
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", driverfs.IoError("docstore: building attachment request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", driverfs.RemoteUnavailable("docstore: attachment upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", driverfs.IoError(fmt.Sprintf("docstore: attachment upload status %d", resp.StatusCode), nil)
	}

	var out struct {
		Rev string `json:"rev"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.Rev, nil
}

// AttachmentURL returns the HTTP endpoint the binary cache fetches the
// "file" attachment from.
func (c *Client) AttachmentURL(binaryID string) string {
	return c.baseURL + "/" + binaryID + "/file"
}

// DeleteBinary removes the Binary document (and its attachment) by id.
func (c *Client) DeleteBinary(ctx context.Context, id, rev string) error {
	status, err := c.do(ctx, http.MethodDelete, "/"+id+"?rev="+rev, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted && status != http.StatusNotFound {
		return driverfs.IoError(fmt.Sprintf("docstore: delete binary status %d", status), nil)
	}
	return nil
}

// ----------------------------------------------------------------------
// Device operations
// ----------------------------------------------------------------------

// GetDevice looks up the device record by login name, via device/all.
func (c *Client) GetDevice(ctx context.Context, name string) (*Device, error) {
	var res viewResult[Device]
	if err := c.queryView(ctx, viewDeviceAll, name, &res); err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	d := res.Rows[0].Value
	return &d, nil
}
