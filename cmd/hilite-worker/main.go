// Command hilite-worker serves highlighting requests over stdin and stdout
// using the chroma backend. It is launched by hilite, not by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/hilite/internal/log"
	"github.com/mattjoyce/hilite/internal/protocol"
	"github.com/mattjoyce/hilite/internal/workerd"
)

// levelEnv sets the worker's log level. Warnings and above by default, so
// stderr stays quiet unless something goes wrong.
const levelEnv = "HILITE_WORKER_LOG_LEVEL"

func main() {
	os.Exit(run())
}

func run() int {
	level := os.Getenv(levelEnv)
	if level == "" {
		level = "WARN"
	}
	log.Setup(level)
	logger := log.WithComponent("worker")
	logger.Info("worker starting", "pid", os.Getpid())

	backend := workerd.Chroma{}
	h := workerd.HandlerFunc(func(ctx context.Context, req *protocol.Request) ([]byte, error) {
		start := time.Now()
		body, err := backend.Handle(ctx, req)
		l := log.WithMethod(req.Method)
		if err != nil {
			l.Warn("request failed", "error", err)
			return nil, err
		}
		l.Debug("request handled", "body_bytes", len(body), "elapsed", time.Since(start))
		return body, nil
	})

	if err := workerd.Serve(context.Background(), os.Stdin, os.Stdout, h); err != nil {
		fmt.Fprintf(os.Stderr, "hilite-worker: %v\n", err)
		return 1
	}
	logger.Info("host closed the stream, exiting")
	return 0
}
