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

package tuple

import "github.com/matrixdb/insertdest/pkg/catalog"

// ValueAccessor is a forward cursor over a set of rows. Bulk inserts
// rely on the four operations named in spec.md §6: advance, current
// position, typed read by attribute id, and resettable iteration (Reset
// returns the cursor to just before the first row, the same state it
// starts in), plus Done below.
type ValueAccessor interface {
	// Next advances to the next row, returning false once exhausted.
	Next() bool
	// CurrentPosition is the 0-based ordinal of the row Next() most
	// recently advanced onto.
	CurrentPosition() int
	// GetTypedValue reads one attribute of the current row.
	GetTypedValue(id catalog.AttributeID) Value
	// Reset rewinds the cursor to its initial, pre-Next state.
	Reset()
	// Done reports whether Next() would return false if called now,
	// without consuming a row. Bulk inserts need this to tell "the
	// block ran out of space" apart from "the accessor ran out of rows"
	// when both happen on the same call.
	Done() bool
}

// PositionalAccessor is a ValueAccessor that additionally supports
// random access by absolute row position. PartitionAware's bulk insert
// path needs this: after classifying every row into a per-partition
// membership bitmap (spec.md §4.4), it drains one partition's positions
// at a time, which requires jumping directly to each position rather
// than only ever moving forward one row at a time.
type PositionalAccessor interface {
	ValueAccessor
	ValueAt(pos int, id catalog.AttributeID) Value
	NumRows() int
}

// SliceAccessor is a ValueAccessor over an in-memory slice of Tuples.
// It is the accessor implementation used by tests and by the benchmark
// harness in cmd/insertbench.
type SliceAccessor struct {
	rows []*Tuple
	pos  int
}

// NewSliceAccessor wraps rows for sequential access. The cursor starts
// positioned before the first row.
func NewSliceAccessor(rows []*Tuple) *SliceAccessor {
	return &SliceAccessor{rows: rows, pos: -1}
}

func (a *SliceAccessor) Next() bool {
	if a.pos+1 >= len(a.rows) {
		return false
	}
	a.pos++
	return true
}

func (a *SliceAccessor) CurrentPosition() int { return a.pos }

func (a *SliceAccessor) GetTypedValue(id catalog.AttributeID) Value {
	if a.pos < 0 || a.pos >= len(a.rows) {
		return nil
	}
	return a.rows[a.pos].GetAttributeValue(id)
}

func (a *SliceAccessor) Reset() { a.pos = -1 }

func (a *SliceAccessor) Done() bool { return a.pos+1 >= len(a.rows) }

// Remaining reports how many rows have not yet been consumed by Next.
func (a *SliceAccessor) Remaining() int { return len(a.rows) - (a.pos + 1) }

// ValueAt reads an attribute at an arbitrary absolute row position,
// without disturbing the sequential cursor.
func (a *SliceAccessor) ValueAt(pos int, id catalog.AttributeID) Value {
	if pos < 0 || pos >= len(a.rows) {
		return nil
	}
	return a.rows[pos].GetAttributeValue(id)
}

// NumRows is the total row count backing this accessor.
func (a *SliceAccessor) NumRows() int { return len(a.rows) }

var _ PositionalAccessor = (*SliceAccessor)(nil)
