package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
)

const (
	// PrefixSize is the width of the big-endian header length prefix.
	PrefixSize = 4

	// MaxHeaderSize bounds a single JSON header.
	MaxHeaderSize = 16 << 20

	// MaxBodySize bounds a payload or response body.
	MaxBodySize = 512 << 20
)

var (
	// ErrClosed means the peer closed the stream before a full frame arrived.
	ErrClosed = errors.New("worker closed the pipe")

	// ErrMalformed means a frame arrived but could not be parsed.
	ErrMalformed = errors.New("malformed frame")
)

// WriteRequest frames req onto w: length prefix, JSON header, then payload.
// kwargs["bytes"] is always set to the exact payload length. The frame is
// assembled first and written with a single Write so a failure never leaves a
// partially framed header behind a successful prefix. Returns the header size.
func WriteRequest(w io.Writer, req *Request) (int, error) {
	if req.Method == "" {
		return 0, fmt.Errorf("request method is empty")
	}
	if len(req.Payload) > MaxBodySize {
		return 0, fmt.Errorf("payload too large: %d bytes", len(req.Payload))
	}

	args := req.Args
	if args == nil {
		args = []any{}
	}
	kwargs := make(map[string]any, len(req.Kwargs)+1)
	maps.Copy(kwargs, req.Kwargs)
	kwargs[PayloadKey] = len(req.Payload)

	header, err := json.Marshal(struct {
		Method string         `json:"method"`
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	}{req.Method, args, kwargs})
	if err != nil {
		return 0, fmt.Errorf("failed to encode request header: %w", err)
	}

	if err := writeFrame(w, header, req.Payload); err != nil {
		return len(header), err
	}
	return len(header), nil
}

// ReadRequest reads one request frame from r. It returns io.EOF when r is
// exhausted cleanly before a new frame starts.
func ReadRequest(r io.Reader) (*Request, error) {
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(header))
	dec.UseNumber()

	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: decode request header: %v", ErrMalformed, err)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: request missing required field: method", ErrMalformed)
	}

	size, err := req.PayloadSize()
	if err != nil {
		return nil, err
	}
	if size > 0 {
		req.Payload, err = readBody(r, size)
		if err != nil {
			return nil, err
		}
	}
	return &req, nil
}

// WriteResponse frames a successful result for method onto w.
func WriteResponse(w io.Writer, method string, body []byte) error {
	header, err := json.Marshal(&Response{Method: method, Bytes: len(body)})
	if err != nil {
		return fmt.Errorf("failed to encode response header: %w", err)
	}
	return writeFrame(w, header, body)
}

// WriteError frames a worker-side failure onto w. No body follows.
func WriteError(w io.Writer, method, message string) error {
	header, err := json.Marshal(&Response{Method: method, Error: message})
	if err != nil {
		return fmt.Errorf("failed to encode error header: %w", err)
	}
	return writeFrame(w, header, nil)
}

// ReadResponse reads one response frame from r. If the header carries an
// error the body is not read and the returned body is nil; callers must
// check Response.Failed.
func ReadResponse(r io.Reader) (*Response, []byte, error) {
	header, err := readHeader(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: no response header", ErrClosed)
		}
		return nil, nil, err
	}

	var resp Response
	if err := json.Unmarshal(header, &resp); err != nil {
		return nil, nil, fmt.Errorf("%w: decode response header: %v", ErrMalformed, err)
	}
	if resp.Failed() {
		return &resp, nil, nil
	}
	if resp.Bytes < 0 || resp.Bytes > MaxBodySize {
		return nil, nil, fmt.Errorf("%w: response declares %d body bytes", ErrMalformed, resp.Bytes)
	}

	body, err := readBody(r, resp.Bytes)
	if err != nil {
		return &resp, nil, err
	}
	return &resp, body, nil
}

func writeFrame(w io.Writer, header, body []byte) error {
	if len(header) > MaxHeaderSize {
		return fmt.Errorf("header too large: %d bytes", len(header))
	}
	frame := make([]byte, PrefixSize, PrefixSize+len(header)+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(header)))
	frame = append(frame, header...)
	frame = append(frame, body...)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readHeader returns io.EOF only when the stream ends before the first prefix
// byte; a torn prefix or header is reported as ErrClosed.
func readHeader(r io.Reader) ([]byte, error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length prefix", ErrClosed)
		}
		return nil, fmt.Errorf("%w: read length prefix: %v", ErrClosed, err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 {
		return nil, fmt.Errorf("%w: empty header", ErrMalformed)
	}
	if size > MaxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d exceeds limit", ErrMalformed, size)
	}

	header := make([]byte, size)
	if n, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header truncated after %d of %d bytes", ErrClosed, n, size)
	}
	return header, nil
}

func readBody(r io.Reader, size int) ([]byte, error) {
	body := make([]byte, size)
	if n, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: body truncated after %d of %d bytes", ErrClosed, n, size)
	}
	return body, nil
}
