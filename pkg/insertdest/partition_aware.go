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
	"math"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/logutil"
	"github.com/matrixdb/insertdest/pkg/metrics"
	"github.com/matrixdb/insertdest/pkg/pipeline"
	"github.com/matrixdb/insertdest/pkg/storage"
	"github.com/matrixdb/insertdest/pkg/tuple"
	"go.uber.org/zap"
)

// partitionPool is one partition's private slice of PartitionAware's
// state: its own available/done blocks, guarded by its own mutex so
// that inserts against different partitions never contend with each
// other (spec.md §4.4 — "locking is per partition, not global").
type partitionPool struct {
	mu            sync.Mutex
	availableRefs []storage.MutableBlockReference
	availableIDs  []catalog.BlockID
	doneIDs       []catalog.BlockID
	drainedIDs    []catalog.BlockID
}

// PartitionAwareDestination routes every tuple to a per-partition
// BlockPool-like pool, using either the relation's partitioning
// attributes or a caller-supplied input partition id (spec.md §4.4).
type PartitionAwareDestination struct {
	Base

	scheme           *catalog.PartitionSchemeHeader
	pools            []*partitionPool
	inputPartitionID catalog.PartitionID
	haveInputPartID  bool
}

// NewPartitionAwareDestination builds a partitioned destination with an
// empty pool per partition.
func NewPartitionAwareDestination(
	relation *catalog.RelationSchema,
	layout *catalog.BlockLayout,
	manager storage.Manager,
	operatorIndex catalog.OperatorIndex,
	queryID catalog.QueryID,
	schedulerClientID catalog.ClientID,
	bus pipeline.Bus,
	scheme *catalog.PartitionSchemeHeader,
) *PartitionAwareDestination {
	pools := make([]*partitionPool, scheme.NumPartitions())
	for i := range pools {
		pools[i] = &partitionPool{}
	}
	d := &PartitionAwareDestination{
		Base:   newBase(KindPartitionAware, relation, layout, manager, operatorIndex, queryID, schedulerClientID, bus),
		scheme: scheme,
		pools:  pools,
	}
	// PartitionAware never dispatches through Base's non-partitioned
	// provider loop, but it still needs Base wired for kind/relation
	// accessors and sendBlockFilledMessage.
	return d
}

// AddBlockToPool seeds partition partID's pool with an existing block
// id, mirroring BlockPoolDestination.AddBlockToPool one partition at a
// time.
func (d *PartitionAwareDestination) AddBlockToPool(id catalog.BlockID, partID catalog.PartitionID) {
	p := d.pool(partID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availableIDs = append(p.availableIDs, id)
}

func (d *PartitionAwareDestination) pool(partID catalog.PartitionID) *partitionPool {
	if int(partID) < 0 || int(partID) >= len(d.pools) {
		logutil.Fatal("insert destination: partition id out of range",
			zap.Uint32("partition_id", uint32(partID)), zap.Int("num_partitions", len(d.pools)))
	}
	return d.pools[partID]
}

func (d *PartitionAwareDestination) GetPartitioningAttributes() []catalog.AttributeID {
	return d.scheme.PartitionAttributeIDs()
}

// SetInputPartitionId caches the partition id to use when there are no
// partitioning attributes to extract from the tuple itself (spec.md
// §4.4's "operator supplies the partition directly" case).
func (d *PartitionAwareDestination) SetInputPartitionId(id catalog.PartitionID) {
	d.inputPartitionID = id
	d.haveInputPartID = true
}

// toPartitionValue coerces a stored column value into the integer
// domain PartitionFunc operates over. Strings and floats are folded
// into an int64 rather than compared directly, since the partitioning
// function only ever needs a stable, well-distributed key.
func toPartitionValue(v tuple.Value) catalog.PartitionValue {
	switch x := v.(type) {
	case int64:
		return catalog.PartitionValue(x)
	case float64:
		return catalog.PartitionValue(math.Float64bits(x))
	case string:
		var h uint64 = 14695981039346656037
		for i := 0; i < len(x); i++ {
			h ^= uint64(x[i])
			h *= 1099511628211
		}
		return catalog.PartitionValue(h)
	default:
		return 0
	}
}

func (d *PartitionAwareDestination) getPartitionID(t *tuple.Tuple) catalog.PartitionID {
	attrIDs := d.scheme.PartitionAttributeIDs()
	if len(attrIDs) == 0 {
		if !d.haveInputPartID {
			logutil.Fatal("insert destination: partition_aware destination has no partitioning attributes and no input partition id was set")
		}
		return d.inputPartitionID
	}

	values := make([]catalog.PartitionValue, len(attrIDs))
	for i, id := range attrIDs {
		values[i] = toPartitionValue(t.GetAttributeValue(id))
	}
	return d.scheme.PartitionOf(values)
}

func (d *PartitionAwareDestination) createNewBlock() (storage.MutableBlockReference, error) {
	ref, err := d.manager.CreateBlock(d.relation, d.layout)
	if err == nil {
		metrics.BlocksCreated.WithLabelValues(d.kind.String()).Inc()
	}
	return ref, err
}

func (d *PartitionAwareDestination) getBlockForInsertionInPartition(partID catalog.PartitionID) (storage.MutableBlockReference, error) {
	p := d.pool(partID)

	p.mu.Lock()
	if n := len(p.availableRefs); n > 0 {
		ref := p.availableRefs[n-1]
		p.availableRefs = p.availableRefs[:n-1]
		p.mu.Unlock()
		return ref, nil
	}
	if n := len(p.availableIDs); n > 0 {
		id := p.availableIDs[n-1]
		p.availableIDs = p.availableIDs[:n-1]
		p.mu.Unlock()
		return d.manager.GetBlockMutable(id)
	}
	p.mu.Unlock()

	return d.createNewBlock()
}

func (d *PartitionAwareDestination) returnBlockInPartition(partID catalog.PartitionID, ref storage.MutableBlockReference, full bool) {
	id := ref.ID()
	p := d.pool(partID)

	if !full {
		p.mu.Lock()
		p.availableRefs = append(p.availableRefs, ref)
		p.mu.Unlock()
		metrics.BlocksReturned.WithLabelValues(d.kind.String(), "false").Inc()
		return
	}

	ref.Release()
	p.mu.Lock()
	p.doneIDs = append(p.doneIDs, id)
	p.mu.Unlock()

	metrics.BlocksReturned.WithLabelValues(d.kind.String(), "true").Inc()
	d.sendBlockFilledMessage(id, partID)
}

func (d *PartitionAwareDestination) insertOneInPartition(partID catalog.PartitionID, t *tuple.Tuple) {
	now := time.Now()
	defer func() { metrics.InsertLatencySeconds.WithLabelValues(d.kind.String()).Observe(time.Since(now).Seconds()) }()

	for {
		ref, err := d.getBlockForInsertionInPartition(partID)
		if err != nil {
			logutil.Fatal("insert destination: failed to acquire a block for insertion", zap.Error(err))
		}

		ok, err := ref.Block().InsertTuple(t.Values)
		if err != nil {
			logutil.Fatal("insert destination: storage block rejected a tuple", zap.Error(err))
		}
		if ok {
			metrics.TuplesInserted.WithLabelValues(d.kind.String()).Inc()
			d.returnBlockInPartition(partID, ref, !ref.Block().HasSpace())
			return
		}

		d.returnBlockInPartition(partID, ref, true)
	}
}

func (d *PartitionAwareDestination) InsertTuple(t *tuple.Tuple) {
	d.insertOneInPartition(d.getPartitionID(t), t)
}

func (d *PartitionAwareDestination) InsertTupleInBatch(t *tuple.Tuple) {
	d.insertOneInPartition(d.getPartitionID(t), t)
}

func (d *PartitionAwareDestination) InsertTuplesFromVector(tuples []*tuple.Tuple) {
	for _, t := range tuples {
		d.InsertTupleInBatch(t)
	}
}

// setPartitionMembership scans accessor once, classifying every row
// into a per-partition roaring bitmap of absolute row positions
// (spec.md §4.4: "one bitmap per partition over the accessor's rows").
func (d *PartitionAwareDestination) setPartitionMembership(accessor tuple.PositionalAccessor) []*roaring.Bitmap {
	bitmaps := make([]*roaring.Bitmap, len(d.pools))
	for i := range bitmaps {
		bitmaps[i] = roaring.New()
	}

	attrIDs := d.scheme.PartitionAttributeIDs()
	n := accessor.NumRows()
	for pos := 0; pos < n; pos++ {
		var partID catalog.PartitionID
		if len(attrIDs) == 0 {
			if !d.haveInputPartID {
				logutil.Fatal("insert destination: partition_aware bulk insert has no partitioning attributes and no input partition id was set")
			}
			partID = d.inputPartitionID
		} else {
			values := make([]catalog.PartitionValue, len(attrIDs))
			for i, id := range attrIDs {
				values[i] = toPartitionValue(accessor.ValueAt(pos, id))
			}
			partID = d.scheme.PartitionOf(values)
		}
		bitmaps[partID].Add(uint32(pos))
	}
	return bitmaps
}

// bulkInsertPartitioned drains each partition's bitmap of row positions
// independently, building rows via attributeMap and inserting them into
// that partition's own block pool (spec.md §4.4).
func (d *PartitionAwareDestination) bulkInsertPartitioned(attributeMap []catalog.AttributeID, accessor tuple.ValueAccessor, alwaysMarkFull bool) {
	positional, ok := accessor.(tuple.PositionalAccessor)
	if !ok {
		logutil.Fatal("insert destination: partition_aware bulk insert requires a PositionalAccessor",
			zap.String("kind", d.kind.String()))
		return
	}

	now := time.Now()
	defer func() { metrics.InsertLatencySeconds.WithLabelValues(d.kind.String()).Observe(time.Since(now).Seconds()) }()

	bitmaps := d.setPartitionMembership(positional)

	for partID, bm := range bitmaps {
		if bm.IsEmpty() {
			continue
		}
		it := bm.Iterator()
		for it.HasNext() {
			pos := int(it.Next())
			row := make([]tuple.Value, len(attributeMap))
			for i, attrID := range attributeMap {
				row[i] = positional.ValueAt(pos, attrID)
			}
			d.insertRowInPartition(catalog.PartitionID(partID), row, alwaysMarkFull)
		}
	}
}

func (d *PartitionAwareDestination) insertRowInPartition(partID catalog.PartitionID, row []tuple.Value, alwaysMarkFull bool) {
	for {
		ref, err := d.getBlockForInsertionInPartition(partID)
		if err != nil {
			logutil.Fatal("insert destination: failed to acquire a block for insertion", zap.Error(err))
		}

		ok, err := ref.Block().InsertTuple(row)
		if err != nil {
			logutil.Fatal("insert destination: storage block rejected a tuple", zap.Error(err))
		}
		if !ok {
			d.returnBlockInPartition(partID, ref, true)
			continue
		}

		metrics.TuplesInserted.WithLabelValues(d.kind.String()).Inc()
		full := alwaysMarkFull || !ref.Block().HasSpace()
		d.returnBlockInPartition(partID, ref, full)
		return
	}
}

func (d *PartitionAwareDestination) identityAttributeMap() []catalog.AttributeID {
	n := d.relation.NumAttributes()
	m := make([]catalog.AttributeID, n)
	for i := range m {
		m[i] = catalog.AttributeID(i)
	}
	return m
}

func (d *PartitionAwareDestination) BulkInsertTuples(accessor tuple.ValueAccessor, alwaysMarkFull bool) {
	if accessor.Done() {
		return
	}
	d.bulkInsertPartitioned(d.identityAttributeMap(), accessor, alwaysMarkFull)
}

func (d *PartitionAwareDestination) BulkInsertTuplesWithRemappedAttributes(attributeMap []catalog.AttributeID, accessor tuple.ValueAccessor, alwaysMarkFull bool) {
	if accessor.Done() {
		return
	}
	d.bulkInsertPartitioned(attributeMap, accessor, alwaysMarkFull)
}

// BulkInsertTuplesFromValueAccessors is unsupported on PartitionAware,
// matching AlwaysCreate (spec.md §4.1: reserved for BlockPool).
func (d *PartitionAwareDestination) BulkInsertTuplesFromValueAccessors(pairs []AccessorAttributePair, alwaysMarkFull bool) {
	logutil.Fatal("insert destination: bulkInsertTuplesFromValueAccessors is not implemented for partition_aware",
		zap.Int("num_pairs", len(pairs)))
}

// GetPartiallyFilledBlocks drains every partition's held blocks in
// partition order, pairing each returned block with its partition id
// (spec.md §4.4).
func (d *PartitionAwareDestination) GetPartiallyFilledBlocks() ([]storage.MutableBlockReference, []catalog.PartitionID) {
	var refs []storage.MutableBlockReference
	var partIDs []catalog.PartitionID

	for i, p := range d.pools {
		p.mu.Lock()
		for _, ref := range p.availableRefs {
			refs = append(refs, ref)
			partIDs = append(partIDs, catalog.PartitionID(i))
			p.drainedIDs = append(p.drainedIDs, ref.ID())
		}
		p.availableRefs = nil
		p.mu.Unlock()
	}
	return refs, partIDs
}

// GetTouchedBlocks reports every partition's done blocks in partition
// order, followed by any drained-partial or still-held blocks, also in
// partition order (spec.md §4.4).
func (d *PartitionAwareDestination) GetTouchedBlocks() []catalog.BlockID {
	var out []catalog.BlockID
	for _, p := range d.pools {
		p.mu.Lock()
		out = append(out, p.doneIDs...)
		p.mu.Unlock()
	}
	for _, p := range d.pools {
		p.mu.Lock()
		out = append(out, p.drainedIDs...)
		for _, ref := range p.availableRefs {
			out = append(out, ref.ID())
		}
		p.mu.Unlock()
	}
	return out
}

// AvailableRefCount sums the blocks currently held ready for insertion
// across every partition's pool.
func (d *PartitionAwareDestination) AvailableRefCount() int {
	n := 0
	for _, p := range d.pools {
		p.mu.Lock()
		n += len(p.availableRefs)
		p.mu.Unlock()
	}
	return n
}

// DoneBlockCount sums the blocks retired as full across every
// partition's pool.
func (d *PartitionAwareDestination) DoneBlockCount() int {
	n := 0
	for _, p := range d.pools {
		p.mu.Lock()
		n += len(p.doneIDs)
		p.mu.Unlock()
	}
	return n
}

// TouchedBlocksSnapshot is a non-consuming peek at the same ids
// GetTouchedBlocks reports.
func (d *PartitionAwareDestination) TouchedBlocksSnapshot() []catalog.BlockID {
	return d.GetTouchedBlocks()
}
