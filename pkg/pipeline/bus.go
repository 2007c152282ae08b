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

package pipeline

import (
	"fmt"
	"sync"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"go.uber.org/zap"
)

// SendStatus is the outcome of a Bus.Send call.
type SendStatus int

const (
	SendOK SendStatus = iota
	SendNoSuchReceiver
	SendMailboxFull
)

// Envelope is a message as delivered to a receiver's mailbox: the
// sender's identity plus the tagged payload.
type Envelope struct {
	Sender catalog.ClientID
	Tagged TaggedMessage
}

// Bus is the message-bus contract an insert destination sends pipeline
// notifications over (spec.md §6).
type Bus interface {
	Send(sender, receiver catalog.ClientID, tagged TaggedMessage) (SendStatus, error)
}

// InProcessBus is an in-process, channel-backed Bus: each client
// registers a mailbox by connecting once, and Send delivers a
// non-blocking message to the receiver's mailbox. It plays the role of
// tmb::MessageBus for a single process, matching the buffered,
// bounded-mailbox shape of the teacher's morpc.Backend (default
// mailbox depth 1024, mirroring morpc's WithBackendBufferSize default).
type InProcessBus struct {
	mu        sync.RWMutex
	mailboxes map[catalog.ClientID]chan Envelope
	mailboxSz int
	logger    *zap.Logger
}

// Option configures an InProcessBus at construction, in the
// functional-options shape used by morpc.BackendOption.
type Option func(*InProcessBus)

// WithMailboxSize overrides the default per-client mailbox buffer size.
func WithMailboxSize(n int) Option {
	return func(b *InProcessBus) { b.mailboxSz = n }
}

// WithLogger stores a logger on the bus. InProcessBus itself logs
// nothing; Send reports every failure through its return values.
func WithLogger(logger *zap.Logger) Option {
	return func(b *InProcessBus) { b.logger = logger }
}

// NewInProcessBus builds an empty bus with no registered clients.
func NewInProcessBus(opts ...Option) *InProcessBus {
	b := &InProcessBus{
		mailboxes: make(map[catalog.ClientID]chan Envelope),
		mailboxSz: 1024,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect registers id as a receiver and returns its mailbox. Callers
// (the scheduler, in production; a test goroutine, in tests) drain it
// to observe pipeline messages.
func (b *InProcessBus) Connect(id catalog.ClientID) <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.mailboxes[id]; ok {
		return ch
	}
	ch := make(chan Envelope, b.mailboxSz)
	b.mailboxes[id] = ch
	return ch
}

// Disconnect removes a receiver's mailbox.
func (b *InProcessBus) Disconnect(id catalog.ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.mailboxes[id]; ok {
		delete(b.mailboxes, id)
		close(ch)
	}
}

// Send delivers tagged to receiver's mailbox without blocking. A
// missing receiver or a full mailbox is reported back to the caller;
// spec.md §7 requires the insert destination to treat any non-OK status
// as a fatal transport failure.
func (b *InProcessBus) Send(sender, receiver catalog.ClientID, tagged TaggedMessage) (SendStatus, error) {
	b.mu.RLock()
	ch, ok := b.mailboxes[receiver]
	b.mu.RUnlock()
	if !ok {
		return SendNoSuchReceiver, fmt.Errorf("message bus: no receiver registered for client %d", receiver)
	}
	select {
	case ch <- Envelope{Sender: sender, Tagged: tagged}:
		return SendOK, nil
	default:
		return SendMailboxFull, fmt.Errorf("message bus: mailbox full for client %d", receiver)
	}
}
