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

package docstore_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cozy/cozyfuse/docstore"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ClientTest struct {
	suite.Suite
	server *httptest.Server
	client *docstore.Client

	docs map[string]map[string]interface{}
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTest))
}

func (t *ClientTest) SetupTest() {
	t.docs = map[string]map[string]interface{}{}

	mux := http.NewServeMux()
	mux.HandleFunc("/_design/file/_view/byFullPath", func(w http.ResponseWriter, r *http.Request) {
		var key string
		_ = json.Unmarshal([]byte(r.URL.Query().Get("key")), &key)

		rows := []map[string]interface{}{}
		for _, d := range t.docs {
			if d["docType"] == "File" && d["path"].(string)+"/"+d["name"].(string) == key {
				rows = append(rows, map[string]interface{}{"key": key, "value": d})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"rows": rows})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var doc map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&doc)
			id := "doc1"
			doc["_id"] = id
			doc["_rev"] = "1-abc"
			t.docs[id] = doc
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(doc)
		}
	})

	t.server = httptest.NewServer(mux)
	t.client = docstore.New(t.server.URL, t.server.Client(), timeutil.RealClock())
}

func (t *ClientTest) TearDownTest() {
	t.server.Close()
}

func (t *ClientTest) TestCreateThenGetFile() {
	f := &docstore.File{Name: "file_test.txt", Path: "", Size: 10}
	created, err := t.client.CreateFile(context.Background(), f)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "doc1", created.ID)

	got, err := t.client.GetFile(context.Background(), "/file_test.txt")
	require.NoError(t.T(), err)
	require.NotNil(t.T(), got)
	assert.Equal(t.T(), int64(10), got.Size)
}

func (t *ClientTest) TestGetFileMissing() {
	got, err := t.client.GetFile(context.Background(), "/nope.txt")
	require.NoError(t.T(), err)
	assert.Nil(t.T(), got)
}
