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

// Package insertdest is the write-path concurrency point between query
// worker threads and the storage layer: it receives tuples produced by
// operators and routes them into on-disk storage blocks belonging to a
// target relation, notifying a scheduler whenever a block fills up.
package insertdest

import (
	"time"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/logutil"
	"github.com/matrixdb/insertdest/pkg/metrics"
	"github.com/matrixdb/insertdest/pkg/pipeline"
	"github.com/matrixdb/insertdest/pkg/storage"
	"github.com/matrixdb/insertdest/pkg/threadid"
	"github.com/matrixdb/insertdest/pkg/tuple"
	"go.uber.org/zap"
)

// Kind names one of the three concrete strategies behind the
// InsertDestination contract (spec.md §2).
type Kind int

const (
	KindAlwaysCreate Kind = iota
	KindBlockPool
	KindPartitionAware
)

func (k Kind) String() string {
	switch k {
	case KindAlwaysCreate:
		return "always_create"
	case KindBlockPool:
		return "block_pool"
	case KindPartitionAware:
		return "partition_aware"
	default:
		return "unknown"
	}
}

// AccessorAttributePair pulls one set of destination columns from one
// accessor, for BulkInsertTuplesFromValueAccessors.
type AccessorAttributePair struct {
	Accessor     tuple.ValueAccessor
	AttributeIDs []catalog.AttributeID
}

// InsertDestination is the capability set every strategy implements
// (spec.md §4.1 / §9's "tagged variant or trait/interface" note).
type InsertDestination interface {
	GetRelation() *catalog.RelationSchema
	GetPartitioningAttributes() []catalog.AttributeID
	Kind() Kind
	GetKind() Kind
	QueryID() catalog.QueryID
	SetInputPartitionId(id catalog.PartitionID)

	InsertTuple(t *tuple.Tuple)
	InsertTupleInBatch(t *tuple.Tuple)
	BulkInsertTuples(accessor tuple.ValueAccessor, alwaysMarkFull bool)
	BulkInsertTuplesWithRemappedAttributes(attributeMap []catalog.AttributeID, accessor tuple.ValueAccessor, alwaysMarkFull bool)
	BulkInsertTuplesFromValueAccessors(pairs []AccessorAttributePair, alwaysMarkFull bool)
	InsertTuplesFromVector(tuples []*tuple.Tuple)

	// GetPartiallyFilledBlocks drains still-held partial blocks. Valid
	// only after every handed-out block has been returned, and only
	// once (spec.md §3, §9 open question — resolved in DESIGN.md: a
	// second call returns nothing rather than erroring).
	GetPartiallyFilledBlocks() (blocks []storage.MutableBlockReference, partitionIDs []catalog.PartitionID)

	// GetTouchedBlocks is the one-shot finaliser: it must be called
	// after GetPartiallyFilledBlocks, and reports every block id this
	// destination ever produced, done-first then drained-partial.
	GetTouchedBlocks() []catalog.BlockID
}

// provider is the block-lifecycle policy that AlwaysCreate and
// BlockPool implement, and which Base's shared dispatch loop calls into
// (spec.md §9's "trait/interface over the capability set" note, applied
// one layer down). PartitionAware does not implement this: its
// operations always need a partition id, so it implements
// InsertDestination directly instead of going through Base's loop.
type provider interface {
	getBlockForInsertion() (storage.MutableBlockReference, error)
	returnBlock(ref storage.MutableBlockReference, full bool)
	createNewBlock() (storage.MutableBlockReference, error)
	getPartiallyFilledBlocksInternal() ([]storage.MutableBlockReference, []catalog.PartitionID)
	getTouchedBlocksInternal() []catalog.BlockID
}

// Base holds the state and behavior every strategy shares: the
// relation/layout/storage-manager/bus/scheduler wiring, and the
// pipeline-notification protocol. Concrete strategies embed Base and
// inject themselves as its provider so Base's dispatch methods can call
// back into strategy-specific block lifecycle logic.
type Base struct {
	kind     Kind
	relation *catalog.RelationSchema
	layout   *catalog.BlockLayout
	manager  storage.Manager
	bus      pipeline.Bus

	schedulerClientID catalog.ClientID
	operatorIndex     catalog.OperatorIndex
	queryID           catalog.QueryID

	clientIDs *threadid.ClientIDMap
	provider  provider
}

func newBase(
	kind Kind,
	relation *catalog.RelationSchema,
	layout *catalog.BlockLayout,
	manager storage.Manager,
	operatorIndex catalog.OperatorIndex,
	queryID catalog.QueryID,
	schedulerClientID catalog.ClientID,
	bus pipeline.Bus,
) Base {
	return Base{
		kind:              kind,
		relation:          relation,
		layout:            layout,
		manager:           manager,
		bus:               bus,
		schedulerClientID: schedulerClientID,
		operatorIndex:     operatorIndex,
		queryID:           queryID,
		clientIDs:         threadid.Global(),
	}
}

func (b *Base) GetRelation() *catalog.RelationSchema { return b.relation }

func (b *Base) GetPartitioningAttributes() []catalog.AttributeID { return nil }

func (b *Base) Kind() Kind { return b.kind }

// GetKind is the original's getInsertDestinationType(), carried over
// under the name spec.md §9 gives it; Kind() remains for internal callers.
func (b *Base) GetKind() Kind { return b.kind }

func (b *Base) QueryID() catalog.QueryID { return b.queryID }

// SetInputPartitionId is a no-op on non-partitioned strategies: they
// have no notion of an input partition id to cache.
func (b *Base) SetInputPartitionId(catalog.PartitionID) {}

// sendBlockFilledMessage synthesises and sends a DataPipelineMessage
// for a block that just became full, per spec.md §4.1. The send is
// mandatory: any transport failure is a fatal condition (spec.md §7).
func (b *Base) sendBlockFilledMessage(id catalog.BlockID, partID catalog.PartitionID) {
	msg := &pipeline.DataPipelineMessage{
		OperatorIndex: b.operatorIndex,
		BlockID:       id,
		RelationID:    b.relation.ID(),
		QueryID:       b.queryID,
		PartitionID:   partID,
	}
	payload, err := msg.Marshal()
	if err != nil {
		logutil.Fatal("insert destination: failed to serialize DataPipelineMessage",
			zap.Uint64("block_id", uint64(id)), zap.Error(err))
	}

	sender := b.clientIDs.GetValue()
	status, err := b.bus.Send(sender, b.schedulerClientID, pipeline.TaggedMessage{
		Tag:     pipeline.TagDataPipelineMessage,
		Payload: payload,
	})
	if status != pipeline.SendOK {
		logutil.Fatal("insert destination: message bus rejected DataPipelineMessage",
			zap.Uint64("block_id", uint64(id)),
			zap.Uint64("scheduler_client_id", uint64(b.schedulerClientID)),
			zap.Error(err))
	}

	metrics.PipelineMessagesSent.WithLabelValues(b.kind.String()).Inc()
}

// insertOne is the per-tuple dispatch loop shared by InsertTuple and
// InsertTupleInBatch: acquire a block, append one row, and if the block
// reports no space, mark it full (which triggers pipeline notification
// inside the strategy's returnBlock, per spec.md §4.2-4.3) and retry
// with a fresh block. A block that has no space left right after the
// append is returned as full at once. spec.md documents a distinction in *when*
// notification fires between InsertTuple and InsertTupleInBatch, but
// also states plainly that "pipeline notification still occurs on
// return" in both cases; since returnBlock is what performs that
// notification for every strategy, both callers share this one path
// (see DESIGN.md).
func (b *Base) insertOne(t *tuple.Tuple) {
	now := time.Now()
	defer func() { metrics.InsertLatencySeconds.WithLabelValues(b.kind.String()).Observe(time.Since(now).Seconds()) }()

	for {
		ref, err := b.provider.getBlockForInsertion()
		if err != nil {
			logutil.Fatal("insert destination: failed to acquire a block for insertion", zap.Error(err))
		}

		ok, err := ref.Block().InsertTuple(t.Values)
		if err != nil {
			logutil.Fatal("insert destination: storage block rejected a tuple", zap.Error(err))
		}
		if ok {
			metrics.TuplesInserted.WithLabelValues(b.kind.String()).Inc()
			b.provider.returnBlock(ref, !ref.Block().HasSpace())
			return
		}

		// No space: this block is done. Mark it full and retry against
		// a freshly acquired one; the layout guarantees any single
		// tuple fits in an empty block, so this always makes progress.
		b.provider.returnBlock(ref, true)
	}
}

func (b *Base) InsertTuple(t *tuple.Tuple) { b.insertOne(t) }

func (b *Base) InsertTupleInBatch(t *tuple.Tuple) { b.insertOne(t) }

func (b *Base) identityAttributeMap() []catalog.AttributeID {
	n := b.relation.NumAttributes()
	m := make([]catalog.AttributeID, n)
	for i := range m {
		m[i] = catalog.AttributeID(i)
	}
	return m
}

func (b *Base) BulkInsertTuples(accessor tuple.ValueAccessor, alwaysMarkFull bool) {
	b.bulkInsert(b.identityAttributeMap(), accessor, alwaysMarkFull)
}

func (b *Base) BulkInsertTuplesWithRemappedAttributes(attributeMap []catalog.AttributeID, accessor tuple.ValueAccessor, alwaysMarkFull bool) {
	b.bulkInsert(attributeMap, accessor, alwaysMarkFull)
}

// bulkInsert streams all remaining rows from accessor into blocks
// obtained from the provider, rotating blocks on saturation. An
// accessor with zero remaining rows never acquires a block at all: this
// resolves spec.md §9's open question about always_mark_full on an
// empty accessor by never emitting an empty block or pipeline message
// for a no-op bulk insert (see DESIGN.md).
func (b *Base) bulkInsert(attributeMap []catalog.AttributeID, accessor tuple.ValueAccessor, alwaysMarkFull bool) {
	if accessor.Done() {
		return
	}
	now := time.Now()
	defer func() { metrics.InsertLatencySeconds.WithLabelValues(b.kind.String()).Observe(time.Since(now).Seconds()) }()

	for {
		ref, err := b.provider.getBlockForInsertion()
		if err != nil {
			logutil.Fatal("insert destination: failed to acquire a block for bulk insertion", zap.Error(err))
		}

		n, err := ref.Block().BulkInsert(accessor, attributeMap)
		if err != nil {
			logutil.Fatal("insert destination: storage block rejected a bulk insert", zap.Error(err))
		}
		if n > 0 {
			metrics.TuplesInserted.WithLabelValues(b.kind.String()).Add(float64(n))
		}

		full := alwaysMarkFull || !ref.Block().HasSpace()
		b.provider.returnBlock(ref, full)

		if accessor.Done() {
			return
		}
	}
}

// BulkInsertTuplesFromValueAccessors is unimplemented on the base
// dispatch path. BlockPool overrides it with a working implementation;
// AlwaysCreate and PartitionAware override it with their own fatal
// error, so this fallback is reached only by a strategy that does
// neither.
func (b *Base) BulkInsertTuplesFromValueAccessors([]AccessorAttributePair, bool) {
	logutil.Fatal("insert destination: bulkInsertTuplesFromValueAccessors is not implemented for this strategy",
		zap.String("kind", b.kind.String()))
}

func (b *Base) InsertTuplesFromVector(tuples []*tuple.Tuple) {
	for _, t := range tuples {
		b.InsertTupleInBatch(t)
	}
}
