package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// StoreSignalRequest is the body of POST /rooms/{room}/signals.
//
// Payload is carried verbatim; the relay never inspects SDP or candidate
// internals.
type StoreSignalRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (r StoreSignalRequest) Validate() error {
	if r.Kind == "" {
		return errors.New("missing kind")
	}
	if len(r.Payload) == 0 {
		return errors.New("missing payload")
	}
	if !json.Valid(r.Payload) {
		return errors.New("payload is not valid JSON")
	}
	return nil
}

// StoreSignalResponse acknowledges a stored signal. ID is set only for
// candidate kinds; handshake records are singletons addressed by their kind.
type StoreSignalResponse struct {
	ID string `json:"id,omitempty"`
}

// HandshakeResponse is the body of GET /rooms/{room}/handshake/{kind}.
type HandshakeResponse struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// CandidateWire is one candidate record as it appears on the wire.
type CandidateWire struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// CandidatesResponse is the body of GET /rooms/{room}/candidates/{direction}.
// Candidates is always present, possibly empty.
type CandidatesResponse struct {
	Candidates []CandidateWire `json:"candidates"`
}

// WatchEvent is one push on the GET /rooms/{room}/watch WebSocket: the
// current payload of the watched handshake record whenever it appears or
// changes.
type WatchEvent struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorResponse is the JSON error envelope used by every endpoint.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return expectEOF(dec)
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
