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

func TestPebbleManagerPersistsBlockAcrossReload(t *testing.T) {
	dir := t.TempDir()

	m, err := OpenPebbleManager(dir)
	require.NoError(t, err)

	layout := catalog.NewBlockLayout("l", 5)
	ref, err := m.CreateBlock(testRelation(), layout)
	require.NoError(t, err)
	id := ref.ID()

	for i := 0; i < 3; i++ {
		ok, err := ref.Block().InsertTuple([]tuple.Value{int64(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}
	ref.Release()
	require.NoError(t, m.Close())

	reopened, err := OpenPebbleManager(dir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.GetBlockMutable(id)
	require.NoError(t, err)
	defer loaded.Release()

	assert.Equal(t, 3, loaded.Block().NumTuples())
	assert.True(t, loaded.Block().HasSpace(), "reloaded block should keep its original 5-row capacity")

	scanner, ok := loaded.Block().(Scanner)
	require.True(t, ok)
	rows := scanner.Scan()
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, int64(i), row[0])
	}
}

func TestPebbleManagerNextBlockIDSurvivesReload(t *testing.T) {
	dir := t.TempDir()

	m, err := OpenPebbleManager(dir)
	require.NoError(t, err)

	layout := catalog.NewBlockLayout("l", 5)
	ref1, err := m.CreateBlock(testRelation(), layout)
	require.NoError(t, err)
	ref1.Release()
	require.NoError(t, m.Close())

	reopened, err := OpenPebbleManager(dir)
	require.NoError(t, err)
	defer reopened.Close()

	ref2, err := reopened.CreateBlock(testRelation(), layout)
	require.NoError(t, err)
	defer ref2.Release()

	assert.NotEqual(t, ref1.ID(), ref2.ID())
}
