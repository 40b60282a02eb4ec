// Package workerd is the worker side of the framed protocol: it reads request
// frames from the host, dispatches them to a Handler, and writes one response
// frame per request. Chroma is a Handler backed by the chroma highlighter, so
// a worker can be built without any external interpreter.
package workerd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mattjoyce/hilite/internal/protocol"
)

// Handler answers a single request. A returned error is sent back to the host
// as an error header.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) ([]byte, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Request) ([]byte, error) {
	return f(ctx, req)
}

// Serve processes frames from r until the host closes the stream (nil) or
// the stream becomes unusable (error). Requests are handled strictly one at
// a time, in order.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := protocol.ReadRequest(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// The stream cannot be resynchronised after a bad frame; report
			// it and stop.
			_ = protocol.WriteError(w, "", err.Error())
			return fmt.Errorf("read request: %w", err)
		}

		body, herr := handle(ctx, h, req)
		if herr != nil {
			err = protocol.WriteError(w, req.Method, herr.Error())
		} else {
			err = protocol.WriteResponse(w, req.Method, body)
		}
		if err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func handle(ctx context.Context, h Handler, req *protocol.Request) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return h.Handle(ctx, req)
}
