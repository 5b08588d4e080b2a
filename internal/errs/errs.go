// Package errs is the error taxonomy shared by every component of the
// negotiation core (§7): each sentinel is one failure kind, wrapped with
// errors.Is-friendly context by the component that produced it.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is a transport-level failure: connect, DNS, send/recv,
	// select, bind, or a UPnP/STUN/interface-enumeration failure.
	ErrNetwork = errors.New("network error")

	// ErrHTTPNonOK is an HTTP response with status >= 400.
	ErrHTTPNonOK = errors.New("http non-ok response")

	// ErrTimeout is any bounded wait that expired.
	ErrTimeout = errors.New("timeout")

	// ErrBufTooSmall is a caller-supplied output buffer that was too small.
	ErrBufTooSmall = errors.New("buffer too small")

	// ErrUninitialized is a state precondition violation (e.g. Start before
	// Create).
	ErrUninitialized = errors.New("uninitialized state precondition")

	// ErrUnknown is a JSON schema violation, unexpected notification kind,
	// or protocol invariant failure.
	ErrUnknown = errors.New("unknown/protocol error")
)

// HTTPError carries the context an external retry decision needs: the URL,
// status code, and offending body.
type HTTPError struct {
	URL    string
	Status int
	Body   string
	Cause  error
}

func (e *HTTPError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("http %s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("http %s: status %d: %s", e.URL, e.Status, e.Body)
}

func (e *HTTPError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	if e.Status >= 400 {
		return ErrHTTPNonOK
	}
	return nil
}

// ProtocolError wraps a JSON/schema/invariant violation with the offending
// payload, per §7's logging requirement ("the offending JSON").
type ProtocolError struct {
	Context string
	Payload string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %s", e.Context, e.Cause, e.Payload)
	}
	return fmt.Sprintf("%s: %s", e.Context, e.Payload)
}

func (e *ProtocolError) Unwrap() error {
	return ErrUnknown
}
