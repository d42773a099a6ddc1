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

// Package pathutil canonicalizes filesystem paths into the single
// representation shared by the attribute cache, the name cache, and the
// document store's path-keyed indexes.
package pathutil

import "strings"

// Root is the canonical key used for the top-level directory. A path of only
// separators (or the empty string) normalizes to Root.
const Root = ""

// Normalize strips duplicate and trailing separators and rejoins the
// remaining segments behind a single leading slash. The root path
// normalizes to the empty string so it can double as the parent-path key
// for top-level entries.
func Normalize(p string) string {
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}

	if len(kept) == 0 {
		return Root
	}

	return "/" + strings.Join(kept, "/")
}

// Join normalizes the concatenation of a parent path and a leaf name.
func Join(parent, name string) string {
	if parent == Root {
		return Normalize(name)
	}
	return Normalize(parent + "/" + name)
}

// Split returns the normalized parent path and the leaf name of p. A root
// path splits to (Root, "").
func Split(p string) (parent, name string) {
	norm := Normalize(p)
	if norm == Root {
		return Root, ""
	}

	idx := strings.LastIndexByte(norm, '/')
	name = norm[idx+1:]
	parent = Normalize(norm[:idx])
	return parent, name
}

// IsRoot reports whether p normalizes to the root path.
func IsRoot(p string) bool {
	return Normalize(p) == Root
}
