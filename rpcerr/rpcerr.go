// Package rpcerr contains the error taxonomy shared by the consumer and
// the provider. Every failure that crosses the call boundary is an *Error
// so callers can tell "rejected by policy" from "the call failed".
package rpcerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind representing the class of a failure
type Kind int

const (
	// KindUnknown is never produced by this module, only by KindOf on
	// foreign errors
	KindUnknown Kind = iota
	KindProtocol
	KindSerialization
	KindDiscovery
	KindRejected
	KindRemote
	KindNotFound
	KindTimeout
	KindNetwork
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindProtocol:      "protocol",
	KindSerialization: "serialization",
	KindDiscovery:     "discovery",
	KindRejected:      "rejected",
	KindRemote:        "remote",
	KindNotFound:      "not-found",
	KindTimeout:       "timeout",
	KindNetwork:       "network",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error representing a typed rpc failure. Code is the response code that
// produced it, zero if the failure was local.
type Error struct {
	Kind    Kind
	Code    byte
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%v] %v: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("[%v] %v", e.Kind, e.Message)
}

// Unwrap lets errors.Is / errors.As reach the wrapped error
func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...),
		cause: errors.WithStack(err)}
}

// WithCode attaches a response code to a copy of the error
func (e *Error) WithCode(code byte) *Error {
	c := *e
	c.Code = code
	return &c
}

// KindOf returns the kind of the outermost *Error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Rejected reports failures caused by policy (breaker, limiter, draining)
func Rejected(err error) bool {
	return Is(err, KindRejected)
}

// Retryable reports failures the retry policy may try again. Discovery
// errors and local encoding failures would fail the same way twice.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindDiscovery, KindSerialization:
		return false
	}
	return err != nil
}
