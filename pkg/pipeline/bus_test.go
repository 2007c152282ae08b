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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixdb/insertdest/pkg/catalog"
)

func TestInProcessBusDeliversToConnectedReceiver(t *testing.T) {
	bus := NewInProcessBus()
	mailbox := bus.Connect(catalog.ClientID(1))

	status, err := bus.Send(catalog.ClientID(2), catalog.ClientID(1), TaggedMessage{Tag: TagDataPipelineMessage, Payload: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, SendOK, status)

	env := <-mailbox
	assert.Equal(t, catalog.ClientID(2), env.Sender)
	assert.Equal(t, []byte("x"), env.Tagged.Payload)
}

func TestInProcessBusSendToUnknownReceiver(t *testing.T) {
	bus := NewInProcessBus()
	status, err := bus.Send(catalog.ClientID(1), catalog.ClientID(99), TaggedMessage{})
	assert.Error(t, err)
	assert.Equal(t, SendNoSuchReceiver, status)
}

func TestInProcessBusMailboxFullIsNonBlocking(t *testing.T) {
	bus := NewInProcessBus(WithMailboxSize(1))
	bus.Connect(catalog.ClientID(1))

	status, err := bus.Send(catalog.ClientID(2), catalog.ClientID(1), TaggedMessage{})
	require.NoError(t, err)
	assert.Equal(t, SendOK, status)

	status, err = bus.Send(catalog.ClientID(2), catalog.ClientID(1), TaggedMessage{})
	assert.Error(t, err)
	assert.Equal(t, SendMailboxFull, status)
}

func TestDataPipelineMessageRoundTrip(t *testing.T) {
	msg := &DataPipelineMessage{
		OperatorIndex: 7,
		BlockID:       42,
		RelationID:    3,
		QueryID:       9,
		PartitionID:   2,
	}
	payload, err := msg.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalDataPipelineMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDisconnectClosesMailbox(t *testing.T) {
	bus := NewInProcessBus()
	mailbox := bus.Connect(catalog.ClientID(1))
	bus.Disconnect(catalog.ClientID(1))

	_, ok := <-mailbox
	assert.False(t, ok)
}
