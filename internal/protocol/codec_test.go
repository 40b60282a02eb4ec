package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func frame(header string, body string) []byte {
	var buf bytes.Buffer
	var prefix [PrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(header)))
	buf.Write(prefix[:])
	buf.WriteString(header)
	buf.WriteString(body)
	return buf.Bytes()
}

func TestWriteRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, raw []byte, headerLen int)
	}{
		{
			name: "highlight with payload",
			req: &Request{
				Method:  "highlight",
				Kwargs:  map[string]any{"lexer": "python", "formatter": "html"},
				Payload: []byte("print(1)"),
			},
			checkFn: func(t *testing.T, raw []byte, headerLen int) {
				size := binary.BigEndian.Uint32(raw[:PrefixSize])
				if int(size) != headerLen {
					t.Fatalf("prefix %d != header length %d", size, headerLen)
				}
				header := raw[PrefixSize : PrefixSize+headerLen]
				if !strings.Contains(string(header), `"method":"highlight"`) {
					t.Error("missing method field")
				}
				if !strings.Contains(string(header), `"bytes":8`) {
					t.Errorf("missing bytes count in %s", header)
				}
				if got := string(raw[PrefixSize+headerLen:]); got != "print(1)" {
					t.Errorf("payload = %q", got)
				}
			},
		},
		{
			name: "metadata call without payload",
			req:  &Request{Method: "get_all_styles"},
			checkFn: func(t *testing.T, raw []byte, headerLen int) {
				header := string(raw[PrefixSize:])
				if !strings.Contains(header, `"args":[]`) {
					t.Errorf("nil args should encode as empty list: %s", header)
				}
				if !strings.Contains(header, `"bytes":0`) {
					t.Errorf("bytes should be zero without payload: %s", header)
				}
				if len(raw) != PrefixSize+headerLen {
					t.Errorf("unexpected trailing data")
				}
			},
		},
		{
			name:    "missing method",
			req:     &Request{Payload: []byte("x")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := WriteRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Errorf("WriteRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.Bytes(), n)
			}
		})
	}
}

func TestWriteRequestDoesNotMutateKwargs(t *testing.T) {
	kwargs := map[string]any{"lexer": "go"}
	var buf bytes.Buffer
	if _, err := WriteRequest(&buf, &Request{Method: "highlight", Kwargs: kwargs, Payload: []byte("x")}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if _, ok := kwargs[PayloadKey]; ok {
		t.Error("caller kwargs should not be modified")
	}
}

func TestRequestRoundTripDeclaresPayloadLength(t *testing.T) {
	payloads := []string{"a", "print(1)", "héllo wörld ✓", strings.Repeat("x\n", 4096)}

	for _, p := range payloads {
		var buf bytes.Buffer
		if _, err := WriteRequest(&buf, &Request{Method: "highlight", Payload: []byte(p)}); err != nil {
			t.Fatalf("WriteRequest: %v", err)
		}
		req, err := ReadRequest(&buf)
		if err != nil {
			t.Fatalf("ReadRequest: %v", err)
		}
		size, err := req.PayloadSize()
		if err != nil {
			t.Fatalf("PayloadSize: %v", err)
		}
		if size != len(p) {
			t.Errorf("declared bytes %d, payload is %d bytes", size, len(p))
		}
		if string(req.Payload) != p {
			t.Errorf("payload mismatch")
		}
		if buf.Len() != 0 {
			t.Errorf("%d bytes left unread", buf.Len())
		}
	}
}

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "clean end of stream", input: nil, wantErr: io.EOF},
		{name: "torn prefix", input: []byte{0, 0}, wantErr: ErrClosed},
		{name: "invalid json", input: frame(`{not json}`, ""), wantErr: ErrMalformed},
		{name: "missing method", input: frame(`{"args":[]}`, ""), wantErr: ErrMalformed},
		{name: "negative bytes", input: frame(`{"method":"x","kwargs":{"bytes":-1}}`, ""), wantErr: ErrMalformed},
		{name: "fractional bytes", input: frame(`{"method":"x","kwargs":{"bytes":1.5}}`, ""), wantErr: ErrMalformed},
		{name: "short payload", input: frame(`{"method":"x","kwargs":{"bytes":10}}`, "abc"), wantErr: ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRequest(bytes.NewReader(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadRequest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
		checkFn func(t *testing.T, resp *Response, body []byte)
	}{
		{
			name:  "ok response with body",
			input: frame(`{"method":"highlight","bytes":5}`, "hello"),
			checkFn: func(t *testing.T, resp *Response, body []byte) {
				if resp.Method != "highlight" {
					t.Errorf("want method=highlight, got %s", resp.Method)
				}
				if string(body) != "hello" {
					t.Errorf("want body hello, got %q", body)
				}
			},
		},
		{
			name:  "error header is not followed by a body read",
			input: frame(`{"error":"No lexer"}`, "this must stay unread"),
			checkFn: func(t *testing.T, resp *Response, body []byte) {
				if !resp.Failed() || resp.Error != "No lexer" {
					t.Errorf("want error 'No lexer', got %+v", resp)
				}
				if body != nil {
					t.Errorf("body must not be read, got %q", body)
				}
			},
		},
		{
			name:  "zero length body",
			input: frame(`{"method":"css","bytes":0}`, ""),
			checkFn: func(t *testing.T, resp *Response, body []byte) {
				if len(body) != 0 {
					t.Errorf("want empty body, got %q", body)
				}
			},
		},
		{name: "closed before header", input: nil, wantErr: ErrClosed},
		{name: "truncated body", input: frame(`{"method":"highlight","bytes":500}`, strings.Repeat("x", 200)), wantErr: ErrClosed},
		{name: "truncated header", input: frame(`{"method":"highlight","bytes":5}`, "")[:10], wantErr: ErrClosed},
		{name: "invalid header json", input: frame(`<html>`, ""), wantErr: ErrMalformed},
		{name: "empty header", input: []byte{0, 0, 0, 0}, wantErr: ErrMalformed},
		{name: "negative body size", input: frame(`{"bytes":-3}`, ""), wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.input)
			resp, body, err := ReadResponse(r)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ReadResponse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadResponse() unexpected error: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, resp, body)
			}
		})
	}
}

func TestWriteResponseAndError(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResponse(&buf, "css", []byte(".err { }")); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if err := WriteError(&buf, "highlight", "Invalid method frobnicate"); err != nil {
		t.Fatalf("WriteError: %v", err)
	}

	resp, body, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Bytes != len(".err { }") || string(body) != ".err { }" {
		t.Errorf("unexpected first frame: %+v %q", resp, body)
	}

	resp, _, err = ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Error != "Invalid method frobnicate" {
		t.Errorf("unexpected error frame: %+v", resp)
	}
}

func TestPayloadSize(t *testing.T) {
	tests := []struct {
		name    string
		kwargs  map[string]any
		want    int
		wantErr bool
	}{
		{name: "absent", kwargs: nil, want: 0},
		{name: "json number", kwargs: map[string]any{"bytes": json.Number("42")}, want: 42},
		{name: "float64", kwargs: map[string]any{"bytes": float64(7)}, want: 7},
		{name: "int", kwargs: map[string]any{"bytes": 3}, want: 3},
		{name: "string", kwargs: map[string]any{"bytes": "3"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&Request{Kwargs: tt.kwargs}).PayloadSize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("PayloadSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PayloadSize() = %d, want %d", got, tt.want)
			}
		})
	}
}
