// Copyright 2026 The InsertDest Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tuple holds the row-copying primitives the insert-destination
// subsystem operates on: a materialized Tuple, and the ValueAccessor
// cursor abstraction that lets bulk inserts pull rows without copying
// them up front.
package tuple

import "github.com/matrixdb/insertdest/pkg/catalog"

// Value is one column's value. The insert destination never interprets
// it; it only ever copies it into a storage block or reads it back out
// for partitioning.
type Value interface{}

// Tuple is a single fully-materialized row, indexed by attribute id in
// schema order (attribute id i lives at Values[i]).
type Tuple struct {
	Values []Value
}

// NewTuple wraps a row of already-ordered values.
func NewTuple(values []Value) *Tuple {
	return &Tuple{Values: values}
}

// GetAttributeValue returns the value at the given attribute id. Out of
// range ids return nil; callers only ever ask for ids drawn from the
// relation schema, so this is not defended further.
func (t *Tuple) GetAttributeValue(id catalog.AttributeID) Value {
	if int(id) < 0 || int(id) >= len(t.Values) {
		return nil
	}
	return t.Values[id]
}

// NumAttributes reports the row's width.
func (t *Tuple) NumAttributes() int { return len(t.Values) }
