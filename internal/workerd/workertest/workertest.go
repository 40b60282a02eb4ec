// Package workertest turns a test binary into a protocol worker so packages
// can exercise real child processes without a Python toolchain.
//
// A test package calls RunIfHelper first thing in TestMain; Spec then returns
// a worker spec that re-executes the test binary in the requested mode.
package workertest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/hilite/internal/protocol"
	"github.com/mattjoyce/hilite/internal/worker"
	"github.com/mattjoyce/hilite/internal/workerd"
)

// ModeEnv selects the helper behaviour in the child process.
const ModeEnv = "HILITE_TEST_WORKER"

// Worker behaviours.
const (
	// Serve answers every request with the chroma backend.
	Serve = "serve"
	// Hang reads a request and never answers.
	Hang = "hang"
	// Crash writes a diagnostic to stderr and exits after reading a request.
	Crash = "crash"
	// Truncate declares a 500 byte body, sends 200 bytes, then exits.
	Truncate = "truncate"
	// Fail answers every request with an error header followed by junk that
	// must never be read as a body.
	Fail = "fail"
	// Garbage answers with a header that is not JSON.
	Garbage = "garbage"
	// Slow serves normally but sleeps HILITE_TEST_DELAY_MS before highlight.
	Slow = "slow"
)

// FailMessage is the error text sent in Fail mode.
const FailMessage = "invalid option: nowrap=maybe"

// CrashMessage is written to stderr in Crash mode.
const CrashMessage = "Traceback: worker exploded"

// RunIfHelper runs the helper worker and exits when the process was launched
// by Spec. Otherwise it returns immediately.
func RunIfHelper() {
	mode := os.Getenv(ModeEnv)
	if mode == "" {
		return
	}
	os.Exit(run(mode, os.Stdin, os.Stdout, os.Stderr))
}

// Spec returns a worker spec that launches the current test binary in mode.
func Spec(mode string, extraEnv ...string) worker.Spec {
	env := map[string]string{ModeEnv: mode}
	for _, kv := range extraEnv {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return worker.Spec{
		Command: []string{os.Args[0], "-test.run=^$"},
		Env:     env,
	}
}

func run(mode string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx := context.Background()

	switch mode {
	case Serve:
		if err := workerd.Serve(ctx, stdin, stdout, workerd.Chroma{}); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0

	case Slow:
		delay, _ := strconv.Atoi(os.Getenv("HILITE_TEST_DELAY_MS"))
		h := workerd.HandlerFunc(func(ctx context.Context, req *protocol.Request) ([]byte, error) {
			if req.Method == "highlight" {
				time.Sleep(time.Duration(delay) * time.Millisecond)
			}
			return workerd.Chroma{}.Handle(ctx, req)
		})
		if err := workerd.Serve(ctx, stdin, stdout, h); err != nil {
			return 1
		}
		return 0

	case Hang:
		if _, err := protocol.ReadRequest(stdin); err != nil {
			return 1
		}
		time.Sleep(time.Hour)
		return 0

	case Crash:
		_, _ = protocol.ReadRequest(stdin)
		fmt.Fprintln(stderr, CrashMessage)
		return 3

	case Truncate:
		req, err := protocol.ReadRequest(stdin)
		if err != nil {
			return 1
		}
		header := fmt.Sprintf(`{"method":%q,"bytes":500}`, req.Method)
		writeRaw(stdout, header, strings.Repeat("x", 200))
		return 0

	case Fail:
		for {
			req, err := protocol.ReadRequest(stdin)
			if err != nil {
				return 0
			}
			_ = protocol.WriteError(stdout, req.Method, FailMessage)
			_, _ = io.WriteString(stdout, "JUNK")
		}

	case Garbage:
		if _, err := protocol.ReadRequest(stdin); err != nil {
			return 1
		}
		writeRaw(stdout, "<html>not a header</html>", "")
		time.Sleep(time.Hour)
		return 0

	default:
		fmt.Fprintf(stderr, "unknown helper mode %q\n", mode)
		return 2
	}
}

func writeRaw(w io.Writer, header, body string) {
	n := len(header)
	prefix := []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	_, _ = w.Write(prefix)
	_, _ = io.WriteString(w, header+body)
}
