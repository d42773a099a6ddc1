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

package binarycache_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cozy/cozyfuse/binarycache"
	"github.com/cozy/cozyfuse/docstore"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type BinaryCacheTest struct {
	suite.Suite
	server  *httptest.Server
	docs    *docstore.Client
	cache   *binarycache.Cache
	cacheDir string
	content string
}

func TestBinaryCacheSuite(t *testing.T) {
	suite.Run(t, new(BinaryCacheTest))
}

func (t *BinaryCacheTest) SetupTest() {
	t.content = "success_test\n"
	fileDoc := map[string]interface{}{
		"_id": "file1", "_rev": "1-abc", "docType": "File",
		"name": "file_test.txt", "path": "", "size": 10,
		"binary": map[string]interface{}{"file": map[string]interface{}{"id": "bin1", "rev": "1-x"}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/_design/file/_view/byFullPath", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"rows": []map[string]interface{}{{"key": "/file_test.txt", "value": fileDoc}},
		})
	})
	mux.HandleFunc("/file1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(fileDoc)
		case http.MethodPut:
			var doc map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&doc)
			doc["_rev"] = "2-def"
			fileDoc = doc
			_ = json.NewEncoder(w).Encode(doc)
		}
	})
	mux.HandleFunc("/bin1/file", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(t.content))
	})

	t.server = httptest.NewServer(mux)
	t.docs = docstore.New(t.server.URL, t.server.Client(), timeutil.RealClock())

	dir, err := os.MkdirTemp("", "binarycache")
	require.NoError(t.T(), err)
	t.cacheDir = dir

	t.cache = binarycache.New(dir, t.server.URL, "my-device", t.docs, t.server.Client())
}

func (t *BinaryCacheTest) TearDownTest() {
	t.server.Close()
	os.RemoveAll(t.cacheDir)
}

func (t *BinaryCacheTest) TestAddFetchesAndCaches() {
	ctx := context.Background()

	cached, err := t.cache.IsCached(ctx, "/file_test.txt")
	require.NoError(t.T(), err)
	t.Assert().False(cached)

	require.NoError(t.T(), t.cache.Add(ctx, "/file_test.txt", nil))

	cached, err = t.cache.IsCached(ctx, "/file_test.txt")
	require.NoError(t.T(), err)
	t.Assert().True(cached)

	data, err := os.ReadFile(filepath.Join(t.cacheDir, "bin1", "file"))
	require.NoError(t.T(), err)
	t.Assert().Equal(t.content, string(data))
}

func (t *BinaryCacheTest) TestAddWithExplicitData() {
	ctx := context.Background()
	require.NoError(t.T(), t.cache.Add(ctx, "/file_test.txt", []byte{}))

	data, err := os.ReadFile(filepath.Join(t.cacheDir, "bin1", "file"))
	require.NoError(t.T(), err)
	t.Assert().Empty(data)
}

func (t *BinaryCacheTest) TestUpdateAppends() {
	ctx := context.Background()
	require.NoError(t.T(), t.cache.Add(ctx, "/file_test.txt", []byte("abc")))

	require.NoError(t.T(), t.cache.Update(ctx, "/file_test.txt", []byte("def"), 3))

	data, err := os.ReadFile(filepath.Join(t.cacheDir, "bin1", "file"))
	require.NoError(t.T(), err)
	t.Assert().Equal("abcdef", string(data))
}

func (t *BinaryCacheTest) TestUpdateSize() {
	ctx := context.Background()
	require.NoError(t.T(), t.cache.Add(ctx, "/file_test.txt", []byte("test_write_again")))

	size, err := t.cache.UpdateSize(ctx, "/file_test.txt")
	require.NoError(t.T(), err)
	t.Assert().EqualValues(len("test_write_again"), size)
}
