package protocol

import (
	"encoding/json"
	"fmt"
)

// PayloadKey is the kwargs field that declares the payload length of a request.
const PayloadKey = "bytes"

// Request is the envelope for one call to the worker. The payload travels
// out-of-band, immediately after the JSON header.
type Request struct {
	Method  string         `json:"method"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	Payload []byte         `json:"-"`
}

// Response is the header the worker sends back. Bytes declares the length of
// the body that follows; when Error is set there is no body.
type Response struct {
	Method string `json:"method,omitempty"`
	Bytes  int    `json:"bytes"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the worker flagged the call as failed.
func (r *Response) Failed() bool {
	return r.Error != ""
}

// PayloadSize returns the payload length declared in the request kwargs.
// A missing field means no payload.
func (r *Request) PayloadSize() (int, error) {
	v, ok := r.Kwargs[PayloadKey]
	if !ok || v == nil {
		return 0, nil
	}

	var n int64
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: kwargs.%s is not an integer: %q", ErrMalformed, PayloadKey, t.String())
		}
		n = i
	case float64:
		n = int64(t)
		if float64(n) != t {
			return 0, fmt.Errorf("%w: kwargs.%s is not an integer: %v", ErrMalformed, PayloadKey, t)
		}
	case int:
		n = int64(t)
	case int64:
		n = t
	default:
		return 0, fmt.Errorf("%w: kwargs.%s has type %T", ErrMalformed, PayloadKey, v)
	}

	if n < 0 || n > MaxBodySize {
		return 0, fmt.Errorf("%w: kwargs.%s out of range: %d", ErrMalformed, PayloadKey, n)
	}
	return int(n), nil
}
