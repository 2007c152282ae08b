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

// Package catalog holds the read-only external types that describe a
// relation's schema, its default on-disk layout, and (when the relation
// is partitioned) its partitioning scheme. Nothing here is owned or
// mutated by the insert-destination subsystem; it is consumed as-is.
package catalog

// RelationID names a relation within the catalog.
type RelationID uint32

// AttributeID names a column within a relation.
type AttributeID int32

// BlockID is an opaque dense integer naming a storage block. Block ids
// are minted by the storage manager, never by the insert destination.
type BlockID uint64

// PartitionID names one horizontal slice of a partitioned relation.
type PartitionID uint32

// QueryID names one query execution.
type QueryID uint64

// OperatorIndex is the position of a relational operator within its
// query plan DAG.
type OperatorIndex uint64

// ClientID is a message-bus endpoint identity.
type ClientID uint64

// InvalidBlockID is never returned by a real storage manager.
const InvalidBlockID BlockID = 0
