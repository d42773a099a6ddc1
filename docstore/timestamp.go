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
	"encoding/json"
	"fmt"
	"time"
)

// canonicalTimestampLayout is what we write: ISO-8601 without a timezone.
const canonicalTimestampLayout = "2006-01-02T15:04:05"

// acceptedTimestampLayouts mirrors the formats the original document store
// has been observed to emit, in the order tried.
var acceptedTimestampLayouts = []string{
	canonicalTimestampLayout,
	"2006-01-02T15:04:05.000Z",
	"Mon Jan 02 2006 15:04:05",
	"Mon Jan 02 15:04:05 2006",
}

// Timestamp wraps time.Time with the document store's lenient parsing and
// canonical, timezone-free serialization.
type Timestamp struct {
	time.Time
}

func Now(t time.Time) Timestamp {
	return Timestamp{t}
}

func ParseTimestamp(s string) (Timestamp, error) {
	var firstErr error
	for _, layout := range acceptedTimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t}, nil
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return Timestamp{}, fmt.Errorf("docstore: unrecognized timestamp %q: %w", s, firstErr)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(canonicalTimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
