package rpc

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindLiveness means the worker's liveness could not be determined.
	KindLiveness Kind = iota + 1
	// KindSpawn means a worker could not be started.
	KindSpawn
	// KindProtocol means a frame was malformed or inconsistent.
	KindProtocol
	// KindWorker means the worker reported its own failure.
	KindWorker
	// KindTimeout means the call exceeded its deadline.
	KindTimeout
	// KindPipe means the stream broke or ended mid-call.
	KindPipe
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindLiveness:
		return "liveness"
	case KindSpawn:
		return "spawn"
	case KindProtocol:
		return "protocol"
	case KindWorker:
		return "worker"
	case KindTimeout:
		return "timeout"
	case KindPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against *Error.
var (
	ErrLiveness = errors.New("worker liveness probe failed")
	ErrSpawn    = errors.New("worker failed to start")
	ErrProtocol = errors.New("protocol error")
	ErrWorker   = errors.New("worker reported an error")
	ErrTimeout  = errors.New("call timed out")
	ErrPipe     = errors.New("worker pipe broken")
)

var sentinels = map[Kind]error{
	KindLiveness: ErrLiveness,
	KindSpawn:    ErrSpawn,
	KindProtocol: ErrProtocol,
	KindWorker:   ErrWorker,
	KindTimeout:  ErrTimeout,
	KindPipe:     ErrPipe,
}

// Error is the single error type returned by Engine.Call.
type Error struct {
	Kind    Kind
	Method  string
	Message string
	// Stderr holds diagnostic output drained from the worker, if any.
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Kind)
	if e.Method != "" {
		fmt.Fprintf(&b, " in %s", e.Method)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && (e.Message == "" || !strings.Contains(e.Message, e.Err.Error())) {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " (stderr: %s)", s)
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
