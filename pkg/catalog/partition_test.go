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

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPartitionFuncIsDeterministic(t *testing.T) {
	values := []PartitionValue{7, 42}
	a := HashPartitionFunc(values, 8)
	b := HashPartitionFunc(values, 8)
	assert.Equal(t, a, b)
	assert.Less(t, uint32(a), uint32(8))
}

func TestHashPartitionFuncSpreadsAcrossPartitions(t *testing.T) {
	seen := make(map[PartitionID]bool)
	for i := int64(0); i < 200; i++ {
		id := HashPartitionFunc([]PartitionValue{PartitionValue(i)}, 4)
		seen[id] = true
	}
	assert.Len(t, seen, 4, "200 distinct inputs should exercise every partition at fanout 4")
}

func TestPartitionSchemeHeaderDefaultsToHashFunc(t *testing.T) {
	h := NewPartitionSchemeHeader([]AttributeID{0}, 4, nil)
	assert.Equal(t, uint32(4), h.NumPartitions())
	assert.Equal(t, []AttributeID{0}, h.PartitionAttributeIDs())

	id := h.PartitionOf([]PartitionValue{5})
	assert.Less(t, uint32(id), uint32(4))
}

func TestPartitionSchemeHeaderCustomFunc(t *testing.T) {
	calls := 0
	fn := func(values []PartitionValue, numPartitions uint32) PartitionID {
		calls++
		return PartitionID(values[0]) % PartitionID(numPartitions)
	}
	h := NewPartitionSchemeHeader(nil, 3, fn)
	id := h.PartitionOf([]PartitionValue{7})
	assert.Equal(t, PartitionID(1), id)
	assert.Equal(t, 1, calls)
}
