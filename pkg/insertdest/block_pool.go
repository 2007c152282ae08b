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
	"time"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/logutil"
	"github.com/matrixdb/insertdest/pkg/metrics"
	"github.com/matrixdb/insertdest/pkg/pipeline"
	"github.com/matrixdb/insertdest/pkg/storage"
	"github.com/matrixdb/insertdest/pkg/tuple"
	"go.uber.org/zap"
)

// BlockPoolDestination shares a pool of blocks across every caller: a
// block returned not-full goes back into circulation for the next
// getBlockForInsertion instead of being retired (spec.md §4.3). It is
// the only strategy that supports BulkInsertTuplesFromValueAccessors,
// since it is the only one where "the block a partial insert lands in"
// is meaningful state worth keeping around across independent accessor
// batches.
type BlockPoolDestination struct {
	Base

	mu            sync.Mutex
	availableRefs []storage.MutableBlockReference
	availableIDs  []catalog.BlockID
	doneIDs       []catalog.BlockID
	drainedIDs    []catalog.BlockID
}

// NewBlockPoolDestination builds an empty pool: the first insertion
// mints a block.
func NewBlockPoolDestination(
	relation *catalog.RelationSchema,
	layout *catalog.BlockLayout,
	manager storage.Manager,
	operatorIndex catalog.OperatorIndex,
	queryID catalog.QueryID,
	schedulerClientID catalog.ClientID,
	bus pipeline.Bus,
) *BlockPoolDestination {
	d := &BlockPoolDestination{
		Base: newBase(KindBlockPool, relation, layout, manager, operatorIndex, queryID, schedulerClientID, bus),
	}
	d.Base.provider = d
	return d
}

// NewBlockPoolDestinationFromBlocks seeds the pool with blocks that
// already exist (spec.md §4.3's "reconstructed with existing partially
// filled blocks"). They are consumed LIFO, most-recently-supplied
// first, same order AddBlockToPool would produce one at a time.
func NewBlockPoolDestinationFromBlocks(
	relation *catalog.RelationSchema,
	layout *catalog.BlockLayout,
	manager storage.Manager,
	operatorIndex catalog.OperatorIndex,
	queryID catalog.QueryID,
	schedulerClientID catalog.ClientID,
	bus pipeline.Bus,
	existingBlockIDs []catalog.BlockID,
) *BlockPoolDestination {
	d := NewBlockPoolDestination(relation, layout, manager, operatorIndex, queryID, schedulerClientID, bus)
	d.availableIDs = append(d.availableIDs, existingBlockIDs...)
	return d
}

// AddBlockToPool makes a block id available to future insertions
// without requiring it be currently pinned.
func (d *BlockPoolDestination) AddBlockToPool(id catalog.BlockID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.availableIDs = append(d.availableIDs, id)
}

func (d *BlockPoolDestination) createNewBlock() (storage.MutableBlockReference, error) {
	ref, err := d.manager.CreateBlock(d.relation, d.layout)
	if err == nil {
		metrics.BlocksCreated.WithLabelValues(d.kind.String()).Inc()
	}
	return ref, err
}

// getBlockForInsertion prefers a block already pinned and in memory,
// then a known block id that needs loading, and only mints a new one
// once both are exhausted (spec.md §4.3).
func (d *BlockPoolDestination) getBlockForInsertion() (storage.MutableBlockReference, error) {
	d.mu.Lock()
	if n := len(d.availableRefs); n > 0 {
		ref := d.availableRefs[n-1]
		d.availableRefs = d.availableRefs[:n-1]
		d.mu.Unlock()
		return ref, nil
	}
	if n := len(d.availableIDs); n > 0 {
		id := d.availableIDs[n-1]
		d.availableIDs = d.availableIDs[:n-1]
		d.mu.Unlock()
		return d.manager.GetBlockMutable(id)
	}
	d.mu.Unlock()

	return d.createNewBlock()
}

// returnBlock puts a not-full block back into circulation, or retires a
// full one and notifies the scheduler (spec.md §4.3). The pipeline send
// happens after the pool lock is released so a slow bus never blocks
// concurrent insertions into other blocks.
func (d *BlockPoolDestination) returnBlock(ref storage.MutableBlockReference, full bool) {
	id := ref.ID()

	if !full {
		d.mu.Lock()
		d.availableRefs = append(d.availableRefs, ref)
		d.mu.Unlock()
		metrics.BlocksReturned.WithLabelValues(d.kind.String(), "false").Inc()
		return
	}

	ref.Release()
	d.mu.Lock()
	d.doneIDs = append(d.doneIDs, id)
	d.mu.Unlock()

	metrics.BlocksReturned.WithLabelValues(d.kind.String(), "true").Inc()
	d.sendBlockFilledMessage(id, 0)
}

// getPartiallyFilledBlocksInternal drains every block still checked out
// by the pool: what remains is, by definition, not full. Their ids are
// also recorded so a later getTouchedBlocksInternal call still reports
// them (spec.md §8 scenario 6: touched blocks includes the drained
// partial after finalisation).
func (d *BlockPoolDestination) getPartiallyFilledBlocksInternal() ([]storage.MutableBlockReference, []catalog.PartitionID) {
	d.mu.Lock()
	refs := d.availableRefs
	d.availableRefs = nil
	for _, ref := range refs {
		d.drainedIDs = append(d.drainedIDs, ref.ID())
	}
	d.mu.Unlock()

	partIDs := make([]catalog.PartitionID, len(refs))
	return refs, partIDs
}

func (d *BlockPoolDestination) getTouchedBlocksInternal() []catalog.BlockID {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]catalog.BlockID, 0, len(d.doneIDs)+len(d.drainedIDs)+len(d.availableRefs))
	out = append(out, d.doneIDs...)
	out = append(out, d.drainedIDs...)
	for _, ref := range d.availableRefs {
		out = append(out, ref.ID())
	}
	return out
}

func (d *BlockPoolDestination) GetPartiallyFilledBlocks() ([]storage.MutableBlockReference, []catalog.PartitionID) {
	return d.getPartiallyFilledBlocksInternal()
}

func (d *BlockPoolDestination) GetTouchedBlocks() []catalog.BlockID {
	return d.getTouchedBlocksInternal()
}

// AvailableRefCount reports how many blocks the pool currently holds
// ready for the next insertion, a test-only observer mirroring the
// original's FRIEND_TEST accessors.
func (d *BlockPoolDestination) AvailableRefCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.availableRefs)
}

// DoneBlockCount reports how many blocks this pool has retired as full.
func (d *BlockPoolDestination) DoneBlockCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.doneIDs)
}

// TouchedBlocksSnapshot is a non-consuming peek at the same ids
// GetTouchedBlocks reports, safe to call from a test at any point in a
// destination's lifetime rather than only once after finalisation.
func (d *BlockPoolDestination) TouchedBlocksSnapshot() []catalog.BlockID {
	return d.getTouchedBlocksInternal()
}

// BulkInsertTuplesFromValueAccessors advances every accessor in
// lockstep, building one composite row per step from each pair's
// mapped attributes, and inserts row-by-row like InsertTuple, except
// that with alwaysMarkFull set every block is returned as full after
// its row (spec.md §4.1: "used when several independent value sources
// must land in the same physical rows of the destination"). All
// accessors are expected to have the same row count; the shortest one
// determines how many composite rows are produced.
func (d *BlockPoolDestination) BulkInsertTuplesFromValueAccessors(pairs []AccessorAttributePair, alwaysMarkFull bool) {
	if len(pairs) == 0 {
		return
	}

	width := 0
	for _, p := range pairs {
		width += len(p.AttributeIDs)
	}

	now := time.Now()
	defer func() { metrics.InsertLatencySeconds.WithLabelValues(d.kind.String()).Observe(time.Since(now).Seconds()) }()

	for {
		advanced := true
		for _, p := range pairs {
			if p.Accessor.Done() {
				advanced = false
				break
			}
		}
		if !advanced {
			return
		}

		row := make([]tuple.Value, 0, width)
		for _, p := range pairs {
			if !p.Accessor.Next() {
				logutil.Fatal("insert destination: value accessor pair advanced out of lockstep",
					zap.String("kind", d.kind.String()))
			}
			for _, attrID := range p.AttributeIDs {
				row = append(row, p.Accessor.GetTypedValue(attrID))
			}
		}

		d.insertRow(row, alwaysMarkFull)
	}
}

func (d *BlockPoolDestination) insertRow(row []tuple.Value, alwaysMarkFull bool) {
	for {
		ref, err := d.getBlockForInsertion()
		if err != nil {
			logutil.Fatal("insert destination: failed to acquire a block for insertion", zap.Error(err))
		}

		ok, err := ref.Block().InsertTuple(row)
		if err != nil {
			logutil.Fatal("insert destination: storage block rejected a tuple", zap.Error(err))
		}
		if !ok {
			d.returnBlock(ref, true)
			continue
		}

		metrics.TuplesInserted.WithLabelValues(d.kind.String()).Inc()
		full := alwaysMarkFull || !ref.Block().HasSpace()
		d.returnBlock(ref, full)
		return
	}
}

