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

package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/tuple"
)

// memBlock is a plain in-memory Block, sized by RowsPerBlock. It is the
// reference implementation used by unit tests and by the concurrency
// stress tests in spec.md §8, where speed matters more than durability.
type memBlock struct {
	id           catalog.BlockID
	rowsPerBlock uint32

	mu   sync.Mutex
	rows [][]tuple.Value
}

func newMemBlock(id catalog.BlockID, rowsPerBlock uint32) *memBlock {
	return &memBlock{id: id, rowsPerBlock: rowsPerBlock}
}

func (b *memBlock) ID() catalog.BlockID { return b.id }

func (b *memBlock) HasSpace() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint32(len(b.rows)) < b.rowsPerBlock
}

func (b *memBlock) NumTuples() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// InsertTuple is only ever called by the single worker currently
// holding this block's MutableBlockReference (spec.md §3: "the
// storage manager guarantees at most one writer at a time per block"),
// so the lock here only protects against readers (Scan, NumTuples)
// running concurrently, not against concurrent writers.
func (b *memBlock) InsertTuple(row []tuple.Value) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if uint32(len(b.rows)) >= b.rowsPerBlock {
		return false, nil
	}
	if len(row) == 0 {
		return false, fmt.Errorf("storage block %d: cannot insert an empty tuple", b.id)
	}
	cp := make([]tuple.Value, len(row))
	copy(cp, row)
	b.rows = append(b.rows, cp)
	return true, nil
}

func (b *memBlock) BulkInsert(accessor tuple.ValueAccessor, attributeMap []catalog.AttributeID) (int, error) {
	inserted := 0
	for b.HasSpace() && accessor.Next() {
		row := make([]tuple.Value, len(attributeMap))
		for i, attrID := range attributeMap {
			row[i] = accessor.GetTypedValue(attrID)
		}
		ok, err := b.InsertTuple(row)
		if err != nil {
			return inserted, err
		}
		if !ok {
			// HasSpace raced with itself between the check and
			// InsertTuple's own check; can't happen under the
			// single-writer discipline, but fail loudly if it ever does.
			return inserted, fmt.Errorf("storage block %d: lost a race on remaining space", b.id)
		}
		inserted++
	}
	return inserted, nil
}

func (b *memBlock) Scan() [][]tuple.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]tuple.Value, len(b.rows))
	for i, r := range b.rows {
		cp := make([]tuple.Value, len(r))
		copy(cp, r)
		out[i] = cp
	}
	return out
}

// MemManager is an in-memory Manager: every block lives only as long as
// the process does. It is the storage backing used by the bulk of this
// repository's tests.
type MemManager struct {
	nextID uint64

	mu     sync.Mutex
	blocks map[catalog.BlockID]*memBlock
	pinned map[catalog.BlockID]bool
}

// NewMemManager builds an empty in-memory storage manager.
func NewMemManager() *MemManager {
	return &MemManager{
		blocks: make(map[catalog.BlockID]*memBlock),
		pinned: make(map[catalog.BlockID]bool),
	}
}

func (m *MemManager) resolveLayout(relation *catalog.RelationSchema, layout *catalog.BlockLayout) *catalog.BlockLayout {
	if layout != nil {
		return layout
	}
	return relation.DefaultLayout()
}

func (m *MemManager) CreateBlock(relation *catalog.RelationSchema, layout *catalog.BlockLayout) (MutableBlockReference, error) {
	l := m.resolveLayout(relation, layout)
	if l == nil {
		return MutableBlockReference{}, fmt.Errorf("storage manager: relation %d has no layout and none was supplied", relation.ID())
	}
	id := catalog.BlockID(atomic.AddUint64(&m.nextID, 1))
	block := newMemBlock(id, l.RowsPerBlock)

	m.mu.Lock()
	m.blocks[id] = block
	m.pinned[id] = true
	m.mu.Unlock()

	return newMutableBlockReference(block, func() { m.unpin(id) }), nil
}

func (m *MemManager) GetBlockMutable(id catalog.BlockID) (MutableBlockReference, error) {
	m.mu.Lock()
	block, ok := m.blocks[id]
	if !ok {
		m.mu.Unlock()
		return MutableBlockReference{}, fmt.Errorf("storage manager: no such block %d", id)
	}
	if m.pinned[id] {
		m.mu.Unlock()
		return MutableBlockReference{}, fmt.Errorf("storage manager: block %d is already pinned by another writer", id)
	}
	m.pinned[id] = true
	m.mu.Unlock()

	return newMutableBlockReference(block, func() { m.unpin(id) }), nil
}

func (m *MemManager) unpin(id catalog.BlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[id] = false
}

// BlockRows is a test-only observer that scans a block's rows directly
// out of the manager without going through an insert destination,
// mirroring the FRIEND_TEST accessors named in spec.md §9.
func (m *MemManager) BlockRows(id catalog.BlockID) [][]tuple.Value {
	m.mu.Lock()
	block, ok := m.blocks[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return block.Scan()
}
