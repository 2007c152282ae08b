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

package insertdest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/common/moerr"
	"github.com/matrixdb/insertdest/pkg/pipeline"
	"github.com/matrixdb/insertdest/pkg/storage"
)

func TestReconstructAlwaysCreate(t *testing.T) {
	relation := testRelation()
	manager := storage.NewMemManager()
	bus := pipeline.NewInProcessBus()

	dest, err := Reconstruct(1, &Description{Kind: KindAlwaysCreate}, relation, manager, schedulerID, bus)
	require.NoError(t, err)
	assert.Equal(t, KindAlwaysCreate, dest.Kind())
}

func TestReconstructBlockPoolWithExistingBlocks(t *testing.T) {
	relation := testRelation()
	manager := storage.NewMemManager()
	bus := pipeline.NewInProcessBus()

	ref, err := manager.CreateBlock(relation, testLayout(10))
	require.NoError(t, err)
	id := ref.ID()
	ref.Release()

	dest, err := Reconstruct(1, &Description{Kind: KindBlockPool, ExistingBlockIDs: []catalog.BlockID{id}}, relation, manager, schedulerID, bus)
	require.NoError(t, err)

	pool, ok := dest.(*BlockPoolDestination)
	require.True(t, ok)
	got, err := pool.getBlockForInsertion()
	require.NoError(t, err)
	assert.Equal(t, id, got.ID())
	got.Release()
}

func TestReconstructPartitionAwareRejectsZeroPartitions(t *testing.T) {
	relation := testRelation()
	manager := storage.NewMemManager()
	bus := pipeline.NewInProcessBus()

	_, err := Reconstruct(1, &Description{Kind: KindPartitionAware, NumPartitions: 0}, relation, manager, schedulerID, bus)
	require.Error(t, err)

	moErr, ok := err.(*moerr.Error)
	require.True(t, ok)
	assert.Equal(t, moerr.ErrPartitionCountZero, moErr.Code())
}

func TestReconstructPartitionAwareRejectsUnknownAttribute(t *testing.T) {
	relation := testRelation()
	manager := storage.NewMemManager()
	bus := pipeline.NewInProcessBus()

	desc := &Description{
		Kind:                  KindPartitionAware,
		NumPartitions:         2,
		PartitionAttributeIDs: []catalog.AttributeID{99},
	}
	_, err := Reconstruct(1, desc, relation, manager, schedulerID, bus)
	require.Error(t, err)

	moErr, ok := err.(*moerr.Error)
	require.True(t, ok)
	assert.Equal(t, moerr.ErrUnknownAttribute, moErr.Code())
}

func TestReconstructPartitionAwareSeedsPartitionBlocks(t *testing.T) {
	relation := testRelation()
	manager := storage.NewMemManager()
	bus := pipeline.NewInProcessBus()

	ref, err := manager.CreateBlock(relation, testLayout(10))
	require.NoError(t, err)
	id := ref.ID()
	ref.Release()

	desc := &Description{
		Kind:                  KindPartitionAware,
		NumPartitions:         2,
		PartitionAttributeIDs: []catalog.AttributeID{0},
		PartitionBlocks:       [][]catalog.BlockID{{id}, nil},
	}
	dest, err := Reconstruct(1, desc, relation, manager, schedulerID, bus)
	require.NoError(t, err)

	pa, ok := dest.(*PartitionAwareDestination)
	require.True(t, ok)
	got, err := pa.getBlockForInsertionInPartition(0)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID())
	got.Release()
}

func TestReconstructPartitionBlocksLengthMismatch(t *testing.T) {
	relation := testRelation()
	manager := storage.NewMemManager()
	bus := pipeline.NewInProcessBus()

	desc := &Description{
		Kind:            KindPartitionAware,
		NumPartitions:   3,
		PartitionBlocks: [][]catalog.BlockID{{1}},
	}
	_, err := Reconstruct(1, desc, relation, manager, schedulerID, bus)
	require.Error(t, err)
}
