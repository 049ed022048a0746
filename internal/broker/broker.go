// Package broker implements the signal relay core: a stateless translation
// of client-facing signaling operations into shared-store operations.
//
// Every operation is self-contained. The service holds no session state
// between requests and may be invoked concurrently by both participants'
// poll loops at arbitrary relative timing.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/signalhop/signalhop/internal/metrics"
	"github.com/signalhop/signalhop/internal/signal"
	"github.com/signalhop/signalhop/internal/store"
)

var (
	// ErrInvalidRequest marks malformed input: bad room ID, unknown kind or
	// direction, empty payload. Rejected, never retried.
	ErrInvalidRequest = errors.New("broker: invalid request")

	// ErrNotFound is expected absence: the record is not there yet. Pollers
	// treat it as "keep polling", not as a failure.
	ErrNotFound = errors.New("broker: not found")

	// ErrStoreUnavailable wraps an underlying store failure. The caller's
	// natural poll cadence is the retry mechanism.
	ErrStoreUnavailable = errors.New("broker: store unavailable")
)

// Candidate is one entry of a direction collection.
type Candidate struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Service exposes the six relay operations over a Store.
//
// The zero dependencies beyond the store are deliberate: per-key atomicity of
// the store is the only consistency the protocol relies on.
type Service struct {
	store   store.Store
	metrics *metrics.Metrics

	// newID generates candidate record IDs. Overridable in tests.
	newID func() string
}

func NewService(st store.Store, m *metrics.Metrics) *Service {
	return &Service{
		store:   st,
		metrics: m,
		newID:   func() string { return uuid.NewString() },
	}
}

// StoreSignal writes one signal record.
//
// Handshake kinds overwrite the singleton record for (room, kind) —
// last-write-wins, since a new offer obsoletes the previous one. Candidate
// kinds append a new record under a freshly generated unique ID in the
// collection the consuming peer polls; the ID is returned.
func (s *Service) StoreSignal(ctx context.Context, room string, kind signal.Kind, payload json.RawMessage) (string, error) {
	if !signal.ValidRoomID(room) {
		return "", fmt.Errorf("%w: bad room id %q", ErrInvalidRequest, room)
	}
	if _, err := signal.ParseKind(string(kind)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return "", fmt.Errorf("%w: missing or malformed payload", ErrInvalidRequest)
	}

	if kind.IsHandshake() {
		if err := s.store.Set(ctx, signal.HandshakeKey(room, kind), payload); err != nil {
			return "", storeErr("set", err)
		}
		s.metrics.Inc(metrics.SignalStored)
		return "", nil
	}

	dir, _ := kind.DirectionFor()
	id := s.newID()
	if err := s.store.Set(ctx, signal.CandidateKey(room, dir, id), payload); err != nil {
		return "", storeErr("set", err)
	}
	s.metrics.Inc(metrics.SignalStored)
	return id, nil
}

// FetchHandshake returns the current offer or answer payload, or ErrNotFound.
// Side-effect-free; consumption is the caller's explicit DeleteHandshake.
func (s *Service) FetchHandshake(ctx context.Context, room string, kind signal.Kind) (json.RawMessage, error) {
	if !signal.ValidRoomID(room) {
		return nil, fmt.Errorf("%w: bad room id %q", ErrInvalidRequest, room)
	}
	if !kind.IsHandshake() {
		return nil, fmt.Errorf("%w: %q is not a handshake kind", ErrInvalidRequest, kind)
	}

	payload, err := s.store.Get(ctx, signal.HandshakeKey(room, kind))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	s.metrics.Inc(metrics.HandshakeFetched)
	return payload, nil
}

// FetchCandidates returns the full current contents of one direction
// collection, ordered by key. The sequence may be empty. Side-effect-free.
func (s *Service) FetchCandidates(ctx context.Context, room string, dir signal.Direction) ([]Candidate, error) {
	if !signal.ValidRoomID(room) {
		return nil, fmt.Errorf("%w: bad room id %q", ErrInvalidRequest, room)
	}
	if _, err := signal.ParseDirection(string(dir)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	entries, err := s.store.List(ctx, signal.CandidateCollectionKey(room, dir))
	if err != nil {
		return nil, storeErr("list", err)
	}

	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		id, ok := signal.CandidateIDFromKey(room, dir, e.Key)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{ID: id, Payload: e.Value})
	}
	s.metrics.Inc(metrics.CandidatesFetched)
	return candidates, nil
}

// DeleteHandshake removes a room's offer or answer. Idempotent: deleting an
// absent record succeeds.
func (s *Service) DeleteHandshake(ctx context.Context, room string, kind signal.Kind) error {
	if !signal.ValidRoomID(room) {
		return fmt.Errorf("%w: bad room id %q", ErrInvalidRequest, room)
	}
	if !kind.IsHandshake() {
		return fmt.Errorf("%w: %q is not a handshake kind", ErrInvalidRequest, kind)
	}
	if err := s.store.Delete(ctx, signal.HandshakeKey(room, kind)); err != nil {
		return storeErr("delete", err)
	}
	s.metrics.Inc(metrics.HandshakeDeleted)
	return nil
}

// DeleteCandidate removes one candidate record by its unique ID. Idempotent.
func (s *Service) DeleteCandidate(ctx context.Context, room string, dir signal.Direction, id string) error {
	if !signal.ValidRoomID(room) {
		return fmt.Errorf("%w: bad room id %q", ErrInvalidRequest, room)
	}
	if _, err := signal.ParseDirection(string(dir)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if id == "" {
		return fmt.Errorf("%w: missing candidate id", ErrInvalidRequest)
	}
	if err := s.store.Delete(ctx, signal.CandidateKey(room, dir, id)); err != nil {
		return storeErr("delete", err)
	}
	s.metrics.Inc(metrics.CandidateDeleted)
	return nil
}

// DeleteRoom is the maintenance sweep: list every key under the room prefix
// and delete each. Run it only when no session is active in the room.
//
// The sweep is not atomic; records written concurrently with the sweep may
// survive it. That is acceptable for an out-of-band cleanup operation.
func (s *Service) DeleteRoom(ctx context.Context, room string) error {
	if !signal.ValidRoomID(room) {
		return fmt.Errorf("%w: bad room id %q", ErrInvalidRequest, room)
	}
	entries, err := s.store.List(ctx, signal.RoomKey(room))
	if err != nil {
		return storeErr("list", err)
	}
	for _, e := range entries {
		if err := s.store.Delete(ctx, e.Key); err != nil {
			return storeErr("delete", err)
		}
	}
	s.metrics.Inc(metrics.RoomSwept)
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
