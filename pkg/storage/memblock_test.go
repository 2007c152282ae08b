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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/tuple"
)

func testRelation() *catalog.RelationSchema {
	attrs := []catalog.Attribute{
		{ID: 0, Name: "id", Type: catalog.AttrInt64},
	}
	return catalog.NewRelationSchema(1, "t", attrs, catalog.NewBlockLayout("default", 4))
}

func TestMemManagerCreateAndFillBlock(t *testing.T) {
	m := NewMemManager()
	layout := catalog.NewBlockLayout("l", 2)

	ref, err := m.CreateBlock(testRelation(), layout)
	require.NoError(t, err)
	defer ref.Release()

	ok, err := ref.Block().InsertTuple([]tuple.Value{int64(1)})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ref.Block().HasSpace())

	ok, err = ref.Block().InsertTuple([]tuple.Value{int64(2)})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, ref.Block().HasSpace())

	ok, err = ref.Block().InsertTuple([]tuple.Value{int64(3)})
	require.NoError(t, err)
	assert.False(t, ok, "block should reject inserts once full")
}

func TestMemManagerDefaultLayoutWhenNilOverride(t *testing.T) {
	m := NewMemManager()
	ref, err := m.CreateBlock(testRelation(), nil)
	require.NoError(t, err)
	defer ref.Release()

	for i := 0; i < 4; i++ {
		ok, err := ref.Block().InsertTuple([]tuple.Value{int64(i)})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.False(t, ref.Block().HasSpace())
}

func TestMemManagerRejectsDoublePin(t *testing.T) {
	m := NewMemManager()
	ref, err := m.CreateBlock(testRelation(), catalog.NewBlockLayout("l", 4))
	require.NoError(t, err)

	_, err = m.GetBlockMutable(ref.ID())
	assert.Error(t, err)

	ref.Release()

	again, err := m.GetBlockMutable(ref.ID())
	require.NoError(t, err)
	again.Release()
}

func TestMutableBlockReferenceReleaseIsIdempotent(t *testing.T) {
	m := NewMemManager()
	ref, err := m.CreateBlock(testRelation(), catalog.NewBlockLayout("l", 4))
	require.NoError(t, err)

	ref.Release()
	ref.Release()

	reacquired, err := m.GetBlockMutable(ref.ID())
	require.NoError(t, err)
	reacquired.Release()
}

func TestBlockBulkInsertStopsAtCapacity(t *testing.T) {
	m := NewMemManager()
	ref, err := m.CreateBlock(testRelation(), catalog.NewBlockLayout("l", 3))
	require.NoError(t, err)
	defer ref.Release()

	rows := make([]*tuple.Tuple, 5)
	for i := range rows {
		rows[i] = tuple.NewTuple([]tuple.Value{int64(i)})
	}
	accessor := tuple.NewSliceAccessor(rows)

	n, err := ref.Block().BulkInsert(accessor, []catalog.AttributeID{0})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, accessor.Done())
	assert.Equal(t, 2, accessor.Remaining())
}
