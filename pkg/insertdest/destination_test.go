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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/pipeline"
	"github.com/matrixdb/insertdest/pkg/storage"
	"github.com/matrixdb/insertdest/pkg/threadid"
	"github.com/matrixdb/insertdest/pkg/tuple"
)

const schedulerID = catalog.ClientID(1)

func testRelation() *catalog.RelationSchema {
	attrs := []catalog.Attribute{
		{ID: 0, Name: "id", Type: catalog.AttrInt64},
		{ID: 1, Name: "payload", Type: catalog.AttrVarChar},
	}
	return catalog.NewRelationSchema(1, "t", attrs, nil)
}

func testLayout(rowsPerBlock uint32) *catalog.BlockLayout {
	return catalog.NewBlockLayout("l", rowsPerBlock)
}

func mkTuple(id int64) *tuple.Tuple {
	return tuple.NewTuple([]tuple.Value{id, "row"})
}

// registerWorker records id as the calling goroutine's bus client id in
// the global thread-id map, so pipeline messages sent from it name a
// distinct sender, matching a worker thread's one-time AddValue call at
// startup (spec.md §6).
func registerWorker(t *testing.T, id catalog.ClientID) {
	t.Helper()
	threadid.Global().AddValue(id)
	t.Cleanup(threadid.Global().RemoveValue)
}

func drainMailbox(t *testing.T, mailbox <-chan pipeline.Envelope, n int) []*pipeline.DataPipelineMessage {
	t.Helper()
	out := make([]*pipeline.DataPipelineMessage, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case env := <-mailbox:
			msg, err := pipeline.UnmarshalDataPipelineMessage(env.Tagged.Payload)
			require.NoError(t, err)
			out = append(out, msg)
		case <-timeout:
			t.Fatalf("timed out waiting for %d pipeline messages, got %d", n, len(out))
		}
	}
	return out
}

func TestAlwaysCreateThreeInserts(t *testing.T) {
	registerWorker(t, 100)

	bus := pipeline.NewInProcessBus()
	mailbox := bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	dest := NewAlwaysCreateDestination(testRelation(), testLayout(10), manager, 0, 1, schedulerID, bus)

	for i := int64(0); i < 3; i++ {
		dest.InsertTuple(mkTuple(i))
	}

	touched := dest.GetTouchedBlocks()
	assert.Len(t, touched, 3)
	assert.Equal(t, []catalog.BlockID{1, 2, 3}, touched)

	partials, _ := dest.GetPartiallyFilledBlocks()
	assert.Empty(t, partials)

	msgs := drainMailbox(t, mailbox, 3)
	assert.Len(t, msgs, 3)
}

func TestBlockPoolFiveInsertsRowsPerBlockTwo(t *testing.T) {
	registerWorker(t, 101)

	bus := pipeline.NewInProcessBus()
	mailbox := bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	dest := NewBlockPoolDestination(testRelation(), testLayout(2), manager, 0, 1, schedulerID, bus)

	for i := int64(0); i < 5; i++ {
		dest.InsertTupleInBatch(mkTuple(i))
	}

	msgs := drainMailbox(t, mailbox, 2)
	assert.Len(t, msgs, 2)

	partials, partIDs := dest.GetPartiallyFilledBlocks()
	require.Len(t, partials, 1)
	assert.Equal(t, catalog.PartitionID(0), partIDs[0])
	assert.Equal(t, 1, partials[0].Block().NumTuples())
	partials[0].Release()

	touched := dest.GetTouchedBlocks()
	require.Len(t, touched, 3)
	assert.Equal(t, []catalog.BlockID{1, 2, 3}, touched)
}

func TestPartitionAwareRoutesByHash(t *testing.T) {
	registerWorker(t, 102)

	bus := pipeline.NewInProcessBus()
	bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	scheme := catalog.NewPartitionSchemeHeader([]catalog.AttributeID{0}, 2, func(values []catalog.PartitionValue, numPartitions uint32) catalog.PartitionID {
		return catalog.PartitionID(uint64(values[0]) % uint64(numPartitions))
	})
	dest := NewPartitionAwareDestination(testRelation(), testLayout(10), manager, 0, 1, schedulerID, bus, scheme)

	for i := int64(0); i < 5; i++ {
		dest.InsertTuple(mkTuple(i))
	}

	partials, partIDs := dest.GetPartiallyFilledBlocks()
	require.Len(t, partials, 2)

	rowsByPartition := map[catalog.PartitionID]int{}
	for i, ref := range partials {
		scanner, ok := ref.Block().(storage.Scanner)
		require.True(t, ok)
		rowsByPartition[partIDs[i]] = len(scanner.Scan())
		ref.Release()
	}
	assert.Equal(t, 3, rowsByPartition[0]) // ids 0,2,4
	assert.Equal(t, 2, rowsByPartition[1]) // ids 1,3
}

func TestBlockPoolReconstructFromExistingBlocksIsLIFO(t *testing.T) {
	registerWorker(t, 103)

	bus := pipeline.NewInProcessBus()
	bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	relation := testRelation()
	layout := testLayout(10)

	ref7, err := manager.CreateBlock(relation, layout)
	require.NoError(t, err)
	id7 := ref7.ID()
	ref7.Release()

	ref9, err := manager.CreateBlock(relation, layout)
	require.NoError(t, err)
	id9 := ref9.ID()
	ref9.Release()

	dest := NewBlockPoolDestinationFromBlocks(relation, layout, manager, 0, 1, schedulerID, bus, []catalog.BlockID{id7, id9})

	first, err := dest.getBlockForInsertion()
	require.NoError(t, err)
	assert.Equal(t, id9, first.ID())
	first.Release()

	second, err := dest.getBlockForInsertion()
	require.NoError(t, err)
	assert.Equal(t, id7, second.ID())
	second.Release()

	third, err := dest.getBlockForInsertion()
	require.NoError(t, err)
	assert.NotEqual(t, id7, third.ID())
	assert.NotEqual(t, id9, third.ID())
	third.Release()
}

func TestPartitionAwareEmptyAttributesUsesInputPartition(t *testing.T) {
	registerWorker(t, 104)

	bus := pipeline.NewInProcessBus()
	bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	scheme := catalog.NewPartitionSchemeHeader(nil, 4, nil)
	dest := NewPartitionAwareDestination(testRelation(), testLayout(10), manager, 0, 1, schedulerID, bus, scheme)
	dest.SetInputPartitionId(3)

	for i := int64(0); i < 4; i++ {
		dest.InsertTuple(mkTuple(i))
	}

	partials, partIDs := dest.GetPartiallyFilledBlocks()
	require.Len(t, partials, 1)
	assert.Equal(t, catalog.PartitionID(3), partIDs[0])
	assert.Equal(t, 4, partials[0].Block().NumTuples())
	partials[0].Release()
}

func TestFinalisationOrder(t *testing.T) {
	registerWorker(t, 105)

	bus := pipeline.NewInProcessBus()
	mailbox := bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	dest := NewBlockPoolDestination(testRelation(), testLayout(2), manager, 0, 1, schedulerID, bus)

	for i := int64(0); i < 7; i++ {
		dest.InsertTuple(mkTuple(i))
	}
	drainMailbox(t, mailbox, 3)

	partials, _ := dest.GetPartiallyFilledBlocks()
	require.Len(t, partials, 1)
	for _, ref := range partials {
		ref.Release()
	}

	touched := dest.GetTouchedBlocks()
	require.Len(t, touched, 4)
	assert.Equal(t, []catalog.BlockID{1, 2, 3, 4}, touched)
}

func TestEmptyAccessorProducesNoBlocks(t *testing.T) {
	registerWorker(t, 106)

	bus := pipeline.NewInProcessBus()
	bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	dest := NewBlockPoolDestination(testRelation(), testLayout(2), manager, 0, 1, schedulerID, bus)

	dest.BulkInsertTuples(tuple.NewSliceAccessor(nil), true)

	touched := dest.GetTouchedBlocks()
	assert.Empty(t, touched)
}

func TestBlockPoolBulkInsertRoundTrip(t *testing.T) {
	registerWorker(t, 107)

	bus := pipeline.NewInProcessBus()
	bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	dest := NewBlockPoolDestination(testRelation(), testLayout(3), manager, 0, 1, schedulerID, bus)

	rows := make([]*tuple.Tuple, 10)
	for i := range rows {
		rows[i] = mkTuple(int64(i))
	}
	accessor := tuple.NewSliceAccessor(rows)
	dest.BulkInsertTuples(accessor, false)

	partials, _ := dest.GetPartiallyFilledBlocks()
	for _, ref := range partials {
		ref.Release()
	}
	touched := dest.GetTouchedBlocks()

	seen := map[int64]bool{}
	for _, id := range touched {
		scanner, ok := blockFor(manager, id).(storage.Scanner)
		require.True(t, ok)
		for _, row := range scanner.Scan() {
			seen[row[0].(int64)] = true
		}
	}
	assert.Len(t, seen, 10)
}

// blockFor pins a block only long enough to fetch it and then releases
// the pin, for read-back assertions after a destination has already
// released every reference.
func blockFor(manager *storage.MemManager, id catalog.BlockID) storage.Block {
	ref, err := manager.GetBlockMutable(id)
	if err != nil {
		return nil
	}
	defer ref.Release()
	return ref.Block()
}

func TestBlockPoolConcurrentWorkers(t *testing.T) {
	bus := pipeline.NewInProcessBus(pipeline.WithMailboxSize(4096))
	mailbox := bus.Connect(schedulerID)

	manager := storage.NewMemManager()
	dest := NewBlockPoolDestination(testRelation(), testLayout(64), manager, 0, 1, schedulerID, bus)

	const numWorkers = 8
	const perWorker = 2000

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			threadid.Global().AddValue(catalog.ClientID(200 + workerID))
			for i := 0; i < perWorker; i++ {
				dest.InsertTuple(mkTuple(int64(workerID*perWorker + i)))
			}
			threadid.Global().RemoveValue()
		}(w)
	}

	var receivedFull int
	var drainWG sync.WaitGroup
	drainDone := make(chan struct{})
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		for {
			select {
			case <-mailbox:
				receivedFull++
			case <-drainDone:
				for {
					select {
					case <-mailbox:
						receivedFull++
					default:
						return
					}
				}
			}
		}
	}()

	wg.Wait()
	close(drainDone)
	drainWG.Wait()

	partials, _ := dest.GetPartiallyFilledBlocks()
	for _, ref := range partials {
		ref.Release()
	}
	touched := dest.GetTouchedBlocks()

	seenIDs := map[catalog.BlockID]bool{}
	total := 0
	for _, id := range touched {
		assert.False(t, seenIDs[id], "duplicate block id %d", id)
		seenIDs[id] = true
		total += blockFor(manager, id).NumTuples()
	}
	assert.Equal(t, numWorkers*perWorker, total)
}
