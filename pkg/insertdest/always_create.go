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

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/logutil"
	"github.com/matrixdb/insertdest/pkg/metrics"
	"github.com/matrixdb/insertdest/pkg/pipeline"
	"github.com/matrixdb/insertdest/pkg/storage"
	"go.uber.org/zap"
)

// AlwaysCreateDestination hands out a fresh block for every insertion
// and immediately reports it as done, regardless of whether it filled
// (spec.md §4.2). It never holds a pool of blocks between calls, so it
// has nothing to hand back from GetPartiallyFilledBlocks.
type AlwaysCreateDestination struct {
	Base

	mu               sync.Mutex
	returnedBlockIDs []catalog.BlockID
}

// NewAlwaysCreateDestination builds an AlwaysCreate strategy over relation.
func NewAlwaysCreateDestination(
	relation *catalog.RelationSchema,
	layout *catalog.BlockLayout,
	manager storage.Manager,
	operatorIndex catalog.OperatorIndex,
	queryID catalog.QueryID,
	schedulerClientID catalog.ClientID,
	bus pipeline.Bus,
) *AlwaysCreateDestination {
	d := &AlwaysCreateDestination{
		Base: newBase(KindAlwaysCreate, relation, layout, manager, operatorIndex, queryID, schedulerClientID, bus),
	}
	d.Base.provider = d
	return d
}

func (d *AlwaysCreateDestination) createNewBlock() (storage.MutableBlockReference, error) {
	ref, err := d.manager.CreateBlock(d.relation, d.layout)
	if err == nil {
		metrics.BlocksCreated.WithLabelValues(d.kind.String()).Inc()
	}
	return ref, err
}

// getBlockForInsertion always mints a new block: AlwaysCreate never
// reuses one, even a partially filled one it just handed out (spec.md
// §4.2).
func (d *AlwaysCreateDestination) getBlockForInsertion() (storage.MutableBlockReference, error) {
	return d.createNewBlock()
}

// returnBlock unconditionally finalises the block: whether or not it is
// full, AlwaysCreate has nowhere else to put it, so it is marked done
// and its pipeline notification always fires (spec.md §4.2 — "acts as
// though every returned block is full").
func (d *AlwaysCreateDestination) returnBlock(ref storage.MutableBlockReference, full bool) {
	id := ref.ID()
	ref.Release()

	d.mu.Lock()
	d.returnedBlockIDs = append(d.returnedBlockIDs, id)
	d.mu.Unlock()

	metrics.BlocksReturned.WithLabelValues(d.kind.String(), "true").Inc()
	d.sendBlockFilledMessage(id, 0)
}

// getPartiallyFilledBlocksInternal is always empty: AlwaysCreate never
// retains a partial block across calls.
func (d *AlwaysCreateDestination) getPartiallyFilledBlocksInternal() ([]storage.MutableBlockReference, []catalog.PartitionID) {
	return nil, nil
}

func (d *AlwaysCreateDestination) getTouchedBlocksInternal() []catalog.BlockID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]catalog.BlockID, len(d.returnedBlockIDs))
	copy(out, d.returnedBlockIDs)
	return out
}

func (d *AlwaysCreateDestination) GetPartiallyFilledBlocks() ([]storage.MutableBlockReference, []catalog.PartitionID) {
	return d.getPartiallyFilledBlocksInternal()
}

func (d *AlwaysCreateDestination) GetTouchedBlocks() []catalog.BlockID {
	return d.getTouchedBlocksInternal()
}

// AvailableRefCount is always zero: AlwaysCreate never holds a block
// past the call that filled it.
func (d *AlwaysCreateDestination) AvailableRefCount() int { return 0 }

// DoneBlockCount reports how many blocks this destination has produced
// and returned so far.
func (d *AlwaysCreateDestination) DoneBlockCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.returnedBlockIDs)
}

// TouchedBlocksSnapshot is a non-consuming peek at the same ids
// GetTouchedBlocks reports.
func (d *AlwaysCreateDestination) TouchedBlocksSnapshot() []catalog.BlockID {
	return d.getTouchedBlocksInternal()
}

// BulkInsertTuplesFromValueAccessors is unsupported on AlwaysCreate:
// spec.md §4.1 reserves that operation for BlockPool.
func (d *AlwaysCreateDestination) BulkInsertTuplesFromValueAccessors(pairs []AccessorAttributePair, alwaysMarkFull bool) {
	logutil.Fatal("insert destination: bulkInsertTuplesFromValueAccessors is not implemented for always_create",
		zap.Int("num_pairs", len(pairs)))
}
