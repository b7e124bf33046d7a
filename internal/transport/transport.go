// Package transport delivers rendered reminders to recipients.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Sender delivers text to a recipient. A nil error means the delivery was accepted.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

type Kind string

const (
	KindRejected    Kind = "rejected"
	KindUnavailable Kind = "unavailable"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindNetwork     Kind = "network"
	// KindDeferred is returned when the send never reached the transport:
	// the local limiter had no token or the breaker is open.
	KindDeferred Kind = "deferred"
)

// Error is a failed delivery. Every Kind except KindDeferred is a failed attempt.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("transport %s (http %d): %v", e.Kind, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient, text string) error

func (f SenderFunc) Send(ctx context.Context, recipient, text string) error {
	return f(ctx, recipient, text)
}

// Deferred reports whether err means the send was not attempted at all.
func Deferred(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindDeferred
}

// Rejected reports whether the transport refused the message itself. A
// rejection says nothing about transport health.
func Rejected(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindRejected
}
