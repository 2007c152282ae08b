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

// BlockLayout is a template describing how a freshly created block is
// formatted. The insert-destination subsystem treats it as opaque
// beyond RowsPerBlock, which it needs only to size test fixtures and
// benchmark harnesses; the real capacity decision belongs to the
// storage block itself (spec: "the layout guarantees any single tuple
// fits in a fresh empty block").
type BlockLayout struct {
	Name         string
	RowsPerBlock uint32
}

// NewBlockLayout builds a named layout template.
func NewBlockLayout(name string, rowsPerBlock uint32) *BlockLayout {
	return &BlockLayout{Name: name, RowsPerBlock: rowsPerBlock}
}
