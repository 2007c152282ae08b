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

// Package pipeline models the message-bus collaborator of spec.md §6:
// the tagged, typed transport an insert destination uses to tell the
// scheduler that a block just became full.
package pipeline

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/matrixdb/insertdest/pkg/catalog"
)

// Tag identifies the payload format carried by a TaggedMessage. The
// insert destination only ever sends one tag.
type Tag uint32

// TagDataPipelineMessage is the only tag this subsystem sends.
const TagDataPipelineMessage Tag = 1

// DataPipelineMessage announces that a block became full and is ready
// for a downstream operator to consume, per spec.md §4.1.
type DataPipelineMessage struct {
	OperatorIndex catalog.OperatorIndex
	BlockID       catalog.BlockID
	RelationID    catalog.RelationID
	QueryID       catalog.QueryID
	PartitionID   catalog.PartitionID
}

// Marshal serializes the message to its wire form. The retrieved
// example pack filters out every generated *.pb.go file across every
// repo (including the teacher's), leaving nothing to ground a
// hand-authored protobuf codec on; the teacher itself falls back to
// encoding/gob for comparable internal wire state (pkg/hakeeper/rsm.go,
// pkg/txn/storage/tae/read.go, pkg/vm/engine/tae/db/operations.go), so
// this follows that same idiom rather than inventing one. See
// DESIGN.md.
func (m *DataPipelineMessage) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("marshal DataPipelineMessage: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalDataPipelineMessage decodes a payload produced by Marshal.
func UnmarshalDataPipelineMessage(payload []byte) (*DataPipelineMessage, error) {
	var m DataPipelineMessage
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal DataPipelineMessage: %w", err)
	}
	return &m, nil
}

// TaggedMessage pairs a wire payload with the tag naming its format,
// mirroring tmb::TaggedMessage from the original implementation.
type TaggedMessage struct {
	Tag     Tag
	Payload []byte
}
