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

// Package storage models the storage-manager and storage-block
// external collaborators of spec.md §6. The insert-destination
// subsystem only ever consumes the interfaces in this file; how blocks
// are laid out on disk and how the buffer pool evicts pages are
// explicit Non-goals (spec.md §1).
package storage

import (
	"sync"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/tuple"
)

// Block is the append-only write surface of a single storage block.
type Block interface {
	ID() catalog.BlockID

	// InsertTuple appends one row. It reports false, not an error, when
	// the block has no space left; the caller (the base insert
	// destination) is responsible for rotating to a new block. Any
	// other failure (e.g. a tuple too large to ever fit) is a fatal
	// condition surfaced by the block itself, per spec.md §4.1, and is
	// therefore returned as an error here.
	InsertTuple(row []tuple.Value) (inserted bool, err error)

	// BulkInsert consumes as many rows as fit from accessor, mapping
	// destination attribute i from accessor attribute attributeMap[i].
	// It returns the count actually inserted. The accessor's cursor is
	// left positioned so that a subsequent BulkInsert call against a
	// fresh block resumes exactly where this one stopped.
	BulkInsert(accessor tuple.ValueAccessor, attributeMap []catalog.AttributeID) (inserted int, err error)

	// NumTuples reports how many rows the block currently holds.
	NumTuples() int

	// HasSpace reports whether at least one more row fits.
	HasSpace() bool
}

// Scanner is implemented by blocks that support reading their rows back
// out, for round-trip tests. Not part of the core Block contract: a
// production storage block would expose typed columnar readers instead,
// which is out of scope here (spec.md §1, "how tuples are physically
// laid out inside a block").
type Scanner interface {
	Scan() [][]tuple.Value
}

// blockHandle is the shared state behind a MutableBlockReference: the
// underlying block plus an unpin callback that fires exactly once no
// matter how many copies of the reference exist. Copies are not
// counted; the first Release from any copy unpins the block.
type blockHandle struct {
	block Block
	once  sync.Once
	unpin func()
}

// MutableBlockReference is an owning, reference-counted handle to a
// resident, writable block (spec.md §3). It is deliberately a small
// value type wrapping a shared pointer so that "moving" it (as the
// original C++ does with std::move) is just handing the value to a new
// owner; Release must be called exactly once by whichever owner holds
// it last.
type MutableBlockReference struct {
	handle *blockHandle
}

// Valid reports whether the reference still refers to a block, i.e. is
// not the zero value.
func (r MutableBlockReference) Valid() bool { return r.handle != nil }

// Block exposes the underlying block for reading/writing.
func (r MutableBlockReference) Block() Block { return r.handle.block }

// ID is a shorthand for Block().ID().
func (r MutableBlockReference) ID() catalog.BlockID { return r.handle.block.ID() }

// Release unpins the block, telling the storage manager it is no longer
// held by this owner. Safe to call more than once; only the first call
// has an effect.
func (r MutableBlockReference) Release() {
	if r.handle == nil {
		return
	}
	r.handle.once.Do(r.handle.unpin)
}

func newMutableBlockReference(block Block, unpin func()) MutableBlockReference {
	return MutableBlockReference{handle: &blockHandle{block: block, unpin: unpin}}
}

// Manager is the storage-manager collaborator of spec.md §6: it creates
// new blocks attached to a relation, and pins/loads existing ones by
// id. Both operations are opaque to this subsystem beyond their
// signatures; a real implementation manages buffer-pool residency,
// eviction, and on-disk format, none of which this package concerns
// itself with.
type Manager interface {
	// CreateBlock constructs a new, empty block attached to relation,
	// formatted per layout (or the relation's default layout, if layout
	// is nil).
	CreateBlock(relation *catalog.RelationSchema, layout *catalog.BlockLayout) (MutableBlockReference, error)

	// GetBlockMutable pins and returns a writable reference to an
	// existing block, e.g. one named in a BlockPool's available-ids
	// list.
	GetBlockMutable(id catalog.BlockID) (MutableBlockReference, error)
}
