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
	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/common/moerr"
	"github.com/matrixdb/insertdest/pkg/pipeline"
	"github.com/matrixdb/insertdest/pkg/storage"
)

// Description is the serializable configuration a query plan carries
// for one insert destination: enough to reconstruct the right strategy
// with the right pre-existing state on any worker (spec.md §5).
type Description struct {
	Kind              Kind
	RelationalOpIndex catalog.OperatorIndex

	// LayoutOverride replaces the relation's default block layout when set.
	LayoutOverride *catalog.BlockLayout

	// ExistingBlockIDs seeds a BlockPool's pool at reconstruction time.
	ExistingBlockIDs []catalog.BlockID

	// PartitionAttributeIDs, NumPartitions, and PartitionFn configure a
	// PartitionAware destination. An empty PartitionAttributeIDs means
	// routing relies entirely on SetInputPartitionId.
	PartitionAttributeIDs []catalog.AttributeID
	NumPartitions         uint32
	PartitionFn           catalog.PartitionFunc

	// PartitionBlocks seeds each partition's pool, indexed by partition
	// id, when reconstructing a PartitionAware destination with
	// existing blocks.
	PartitionBlocks [][]catalog.BlockID
}

// Validate checks a Description against relation before Reconstruct
// commits to building anything from it (spec.md §5's "malformed
// descriptions are rejected before any storage is touched").
func Validate(desc *Description, relation *catalog.RelationSchema) error {
	if desc.Kind == KindPartitionAware {
		if desc.NumPartitions == 0 {
			return moerr.NewPartitionCountZero()
		}
		for _, id := range desc.PartitionAttributeIDs {
			if _, ok := relation.Attribute(id); !ok {
				return moerr.NewUnknownAttribute(int32(id))
			}
		}
		if desc.PartitionBlocks != nil && len(desc.PartitionBlocks) != int(desc.NumPartitions) {
			return moerr.NewInvalidDescription("partition_blocks length does not match num_partitions")
		}
	}
	return nil
}

// Reconstruct builds the InsertDestination named by desc, wiring it
// against the given relation, storage manager, and message bus, with
// any pre-existing blocks reattached (spec.md §5).
func Reconstruct(
	queryID catalog.QueryID,
	desc *Description,
	relation *catalog.RelationSchema,
	manager storage.Manager,
	schedulerClientID catalog.ClientID,
	bus pipeline.Bus,
) (InsertDestination, error) {
	if err := Validate(desc, relation); err != nil {
		return nil, err
	}

	switch desc.Kind {
	case KindAlwaysCreate:
		return NewAlwaysCreateDestination(relation, desc.LayoutOverride, manager, desc.RelationalOpIndex, queryID, schedulerClientID, bus), nil

	case KindBlockPool:
		if len(desc.ExistingBlockIDs) > 0 {
			return NewBlockPoolDestinationFromBlocks(relation, desc.LayoutOverride, manager, desc.RelationalOpIndex, queryID, schedulerClientID, bus, desc.ExistingBlockIDs), nil
		}
		return NewBlockPoolDestination(relation, desc.LayoutOverride, manager, desc.RelationalOpIndex, queryID, schedulerClientID, bus), nil

	case KindPartitionAware:
		scheme := catalog.NewPartitionSchemeHeader(desc.PartitionAttributeIDs, desc.NumPartitions, desc.PartitionFn)
		d := NewPartitionAwareDestination(relation, desc.LayoutOverride, manager, desc.RelationalOpIndex, queryID, schedulerClientID, bus, scheme)
		for partID, ids := range desc.PartitionBlocks {
			for _, id := range ids {
				d.AddBlockToPool(id, catalog.PartitionID(partID))
			}
		}
		return d, nil

	default:
		return nil, moerr.NewInvalidDescription("unknown insert destination kind")
	}
}
