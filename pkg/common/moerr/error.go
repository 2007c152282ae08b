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

// Package moerr gives the non-fatal error paths of the insert
// destination subsystem a small, numbered error catalog instead of ad
// hoc fmt.Errorf strings, following the shape (not the size) of the
// teacher's pkg/common/moerr: a code, a message, and one NewXxx
// constructor per condition.
package moerr

import "fmt"

// Code groups the small set of non-fatal conditions this subsystem can
// report to a caller. Contract violations and transport/storage
// failures are NOT here: spec.md requires those to be fatal, so they go
// through logutil.Fatal instead of returning an *Error.
type Code uint16

const (
	// Group 1: destination reconstruction / configuration.
	ErrInvalidDescription Code = 30100
	ErrPartitionCountZero Code = 30101
	ErrUnknownAttribute   Code = 30102

	// Group 2: capability checks callers can make before risking a
	// fatal call into an unimplemented operation.
	ErrUnsupportedOperation Code = 30200
)

var messages = map[Code]string{
	ErrInvalidDescription:   "invalid insert destination description",
	ErrPartitionCountZero:   "partition count must be at least 1",
	ErrUnknownAttribute:     "attribute id not present in relation schema",
	ErrUnsupportedOperation: "operation not supported by this insert destination strategy",
}

// Error is a coded, wrapped error. It satisfies the standard error
// interface and supports errors.Is/As via Unwrap.
type Error struct {
	code   Code
	detail string
	cause  error
}

func newError(code Code, args ...interface{}) *Error {
	msg := messages[code]
	if msg == "" {
		msg = "unknown error"
	}
	detail := msg
	if len(args) > 0 {
		detail = fmt.Sprintf(msg+": %v", args)
	}
	return &Error{code: code, detail: detail}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.code, e.detail, e.cause)
	}
	return fmt.Sprintf("[%d] %s", e.code, e.detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Code reports the error's numeric code, for callers that want to
// branch on error kind rather than string-match.
func (e *Error) Code() Code { return e.code }

// NewInvalidDescription reports that a serialized insert-destination
// description failed Validate.
func NewInvalidDescription(reason string) *Error {
	e := newError(ErrInvalidDescription)
	e.detail = fmt.Sprintf("%s: %s", e.detail, reason)
	return e
}

// NewPartitionCountZero reports a description naming zero partitions.
func NewPartitionCountZero() *Error {
	return newError(ErrPartitionCountZero)
}

// NewUnknownAttribute reports a description referencing an attribute id
// absent from the target relation.
func NewUnknownAttribute(id int32) *Error {
	return newError(ErrUnknownAttribute, id)
}

// NewUnsupportedOperation reports that the named operation is not
// implemented by the given strategy. Used only by capability-check call
// sites; the strategies themselves still panic-via-Fatal per spec.md §7
// when called directly, since that path signals a plan-construction bug
// rather than a condition a caller can react to.
func NewUnsupportedOperation(strategy, operation string) *Error {
	e := newError(ErrUnsupportedOperation)
	e.detail = fmt.Sprintf("%s: %s does not support %s", e.detail, strategy, operation)
	return e
}
