// Package printer talks to the resin printer over its network protocol.
// The orchestrator only depends on the Client interface; the concrete
// implementation speaks the Anycubic Mono X plain-text dialect on TCP 6000.
package printer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

type Client interface {
	// Status queries the printer. Failures are classified but not retried
	// here; the monitor counts them for the degraded-connectivity signal.
	Status(ctx context.Context) (Status, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	ListFiles(ctx context.Context) ([]File, error)
	// StartPrint starts the named file. The internal name from ListFiles
	// is what the printer expects.
	StartPrint(ctx context.Context, internalName string) error
	Close() error
}

// File is one entry of the printer's file list.
type File struct {
	Name     string `json:"name"`
	Internal string `json:"internal"`
}

type ErrorKind int

const (
	KindUnreachable ErrorKind = iota
	KindTimeout
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	}
	return "unknown"
}

// Error is a classified printer failure. Unreachable and Timeout are
// transient; Protocol means the printer answered something unusable.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("printer %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("printer %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func protocolError(op, reason string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Err: errors.New(reason)}
}

// classify maps a transport failure onto the error taxonomy.
func classify(op string, err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindUnreachable, Op: op, Err: err}
}

// IsTransient reports whether the failure is worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindUnreachable || pe.Kind == KindTimeout
	}
	return false
}
