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

// Package threadid implements the process-wide thread-identity map
// described in spec.md §6 / §9: a lookup from the calling goroutine to
// its message-bus client id, so InsertDestination can name the sender
// of a pipeline message without every insert call threading that
// identity through its signature.
//
// Go has no stable OS-thread identity to key on (goroutines migrate
// between OS threads), so this follows spec.md §9's explicitly-permitted
// alternative: thread-local storage, implemented here by keying on the
// calling goroutine's runtime id, extracted from runtime.Stack the same
// way a handful of low-level Go libraries recover goroutine identity
// when the standard library declines to expose one.
package threadid

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/logutil"
	"go.uber.org/zap"
)

func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx >= 0 {
		buf = buf[:idx]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}

// ClientIDMap is a goroutine-identity keyed map from the current worker
// to its message-bus client id. It is safe for concurrent use.
type ClientIDMap struct {
	mu sync.RWMutex
	m  map[uint64]catalog.ClientID
}

// NewClientIDMap builds an empty map. Most callers want Global instead.
func NewClientIDMap() *ClientIDMap {
	return &ClientIDMap{m: make(map[uint64]catalog.ClientID)}
}

// AddValue registers the calling goroutine's bus client id. A worker
// calls this once, at startup, before issuing any insert that could
// trigger a pipeline-message send.
func (c *ClientIDMap) AddValue(id catalog.ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[goroutineID()] = id
}

// RemoveValue unregisters the calling goroutine, e.g. at worker
// shutdown.
func (c *ClientIDMap) RemoveValue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, goroutineID())
}

// GetValue returns the calling goroutine's registered bus client id. A
// lookup miss means a worker issued an insert without registering
// first, which is a programming error upstream of this subsystem and is
// therefore fatal, matching the fatal policy of spec.md §7 for contract
// violations.
func (c *ClientIDMap) GetValue() catalog.ClientID {
	c.mu.RLock()
	id, ok := c.m[goroutineID()]
	c.mu.RUnlock()
	if !ok {
		logutil.Fatal("thread id map: no client id registered for calling goroutine",
			zap.Uint64("goroutine_id", goroutineID()))
	}
	return id
}

var global = NewClientIDMap()

// Global is the process-wide client id map, analogous to the singleton
// ThreadIDBasedMap the original quickstep worker pool populates at
// worker-thread start.
func Global() *ClientIDMap { return global }
