// Package rpc is the host side of the worker protocol. An Engine owns one
// worker process and turns calls into framed round trips, respawning the
// worker whenever a previous call left it dead or unusable.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/mattjoyce/hilite/internal/log"
	"github.com/mattjoyce/hilite/internal/protocol"
	"github.com/mattjoyce/hilite/internal/watchdog"
	"github.com/mattjoyce/hilite/internal/worker"
)

// DefaultStderrGrace bounds how long a failed call waits for worker diagnostics.
const DefaultStderrGrace = 200 * time.Millisecond

// Config is the constructor-injected configuration of an Engine.
type Config struct {
	Worker worker.Spec

	// Timeout is the default per-call bound. Zero means unbounded.
	Timeout time.Duration

	// StderrGrace bounds the stderr drain after a pipe failure.
	StderrGrace time.Duration
}

// ResultKind selects how a response body is handed back to the caller.
type ResultKind int

const (
	// Text results are returned as a string with trailing whitespace trimmed.
	Text ResultKind = iota
	// Structured results are JSON values returned verbatim for decoding.
	Structured
)

// Call describes one request.
type Call struct {
	Method  string
	Args    []any
	Kwargs  map[string]any
	Payload []byte

	// Timeout overrides the engine default when positive.
	Timeout time.Duration

	Kind ResultKind
}

// Result is the outcome of a successful call.
type Result struct {
	Kind ResultKind
	Text string
	Data json.RawMessage
}

// Decode unmarshals a structured result into v.
func (r Result) Decode(v any) error {
	if r.Kind != Structured {
		return fmt.Errorf("result is not structured")
	}
	return json.Unmarshal(r.Data, v)
}

// Engine serialises calls onto a single supervised worker. It is safe for
// concurrent use; calls are handled one at a time.
type Engine struct {
	mu      sync.Mutex
	sup     *worker.Supervisor
	timeout time.Duration
	grace   time.Duration
}

// NewEngine creates an Engine. The worker is started lazily by the first call.
func NewEngine(cfg Config) *Engine {
	grace := cfg.StderrGrace
	if grace <= 0 {
		grace = DefaultStderrGrace
	}
	return &Engine{
		sup:     worker.NewSupervisor(cfg.Worker),
		timeout: cfg.Timeout,
		grace:   grace,
	}
}

// Call performs one round trip. Every failure is an *Error, and every failure
// other than a liveness error leaves no worker behind, so the next call starts
// a fresh one.
func (e *Engine) Call(ctx context.Context, c Call) (Result, error) {
	if c.Method == "" {
		return Result{}, &Error{Kind: KindProtocol, Message: "method is empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	logger := log.WithCall(uuid.NewString()).With(
		slog.String("component", "rpc"),
		slog.String("method", c.Method),
	)

	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Kind: KindTimeout, Method: c.Method, Message: "call cancelled", Err: err}
	}

	h, err := e.ensure(logger)
	if err != nil {
		return Result{}, err
	}

	timeout := e.timeout
	if c.Timeout > 0 {
		timeout = c.Timeout
	}

	start := time.Now()
	body, err := watchdog.Run(ctx, watchdog.Watchdog{
		Timeout: timeout,
		Abort: func() {
			_ = e.sup.Stop("deadline")
		},
	}, fmt.Sprintf("%s timed out", c.Method), func() ([]byte, error) {
		return e.roundTrip(h, c, logger)
	})
	if err != nil {
		return Result{}, e.fail(h, c.Method, err, logger)
	}

	res, err := decode(c, body)
	if err != nil {
		return Result{}, e.fail(h, c.Method, err, logger)
	}

	logger.Info("call completed",
		"payload_bytes", len(c.Payload),
		"body_bytes", len(body),
		"elapsed", time.Since(start))
	return res, nil
}

// Alive reports whether the current worker is running. It never blocks on an
// in-flight call.
func (e *Engine) Alive() (bool, error) {
	return e.sup.Alive()
}

// PID returns the current worker pid, or 0.
func (e *Engine) PID() int {
	return e.sup.PID()
}

// Close stops the worker. The engine remains usable; a later call respawns.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sup.Stop("close")
}

func (e *Engine) ensure(logger *slog.Logger) (*worker.Handle, error) {
	alive, err := e.sup.Alive()
	if err != nil {
		logger.Error("worker liveness probe failed", "pid", e.sup.PID(), "error", err)
		return nil, &Error{Kind: KindLiveness, Message: "cannot determine worker liveness", Err: err}
	}
	if alive {
		return e.sup.Handle(), nil
	}

	if pid := e.sup.PID(); pid != 0 {
		logger.Warn("worker is gone, respawning", "pid", pid)
	}
	h, err := e.sup.Start()
	if err != nil {
		return nil, &Error{Kind: KindSpawn, Message: "cannot start worker", Err: err}
	}
	return h, nil
}

func (e *Engine) roundTrip(h *worker.Handle, c Call, logger *slog.Logger) ([]byte, error) {
	n, err := protocol.WriteRequest(h.Stdin(), &protocol.Request{
		Method:  c.Method,
		Args:    c.Args,
		Kwargs:  c.Kwargs,
		Payload: c.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	logger.Debug("request sent", "header_bytes", n, "payload_bytes", len(c.Payload))

	resp, body, err := protocol.ReadResponse(h.Stdout())
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Failed() {
		return nil, &Error{Kind: KindWorker, Method: c.Method, Message: resp.Error}
	}
	if resp.Method != "" && resp.Method != c.Method {
		return nil, &Error{
			Kind:    KindProtocol,
			Method:  c.Method,
			Message: fmt.Sprintf("response is for method %q", resp.Method),
		}
	}
	logger.Debug("response received", "body_bytes", resp.Bytes)
	return body, nil
}

// fail classifies err, stops the worker and returns the caller-facing error.
func (e *Engine) fail(h *worker.Handle, method string, err error, logger *slog.Logger) error {
	var rerr *Error
	switch {
	case errors.As(err, &rerr):
	case errors.Is(err, watchdog.ErrExpired),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		rerr = &Error{Kind: KindTimeout, Method: method, Message: err.Error(), Err: err}
	case errors.Is(err, protocol.ErrMalformed):
		rerr = &Error{Kind: KindProtocol, Method: method, Message: err.Error(), Err: err}
	default:
		rerr = &Error{Kind: KindPipe, Method: method, Message: err.Error(), Err: err}
		if isBrokenStream(err) {
			rerr.Stderr = strings.TrimSpace(h.DrainStderr(e.grace))
		}
	}

	if serr := e.sup.Stop(rerr.Kind.String() + " error"); serr != nil {
		logger.Warn("failed to stop worker after error", "error", serr)
	}
	logger.Error("call failed", "kind", rerr.Kind.String(), "error", rerr)
	return rerr
}

func isBrokenStream(err error) bool {
	return errors.Is(err, protocol.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrClosed)
}

func decode(c Call, body []byte) (Result, error) {
	if c.Kind == Structured {
		if !json.Valid(body) {
			return Result{}, &Error{Kind: KindProtocol, Method: c.Method, Message: "response body is not valid JSON"}
		}
		return Result{Kind: Structured, Data: json.RawMessage(body)}, nil
	}
	return Result{Kind: Text, Text: strings.TrimRightFunc(string(body), unicode.IsSpace)}, nil
}
