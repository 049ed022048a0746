// Package signal models the rendezvous data plane: signal kinds, the two
// candidate direction collections, and the key-naming scheme that scopes
// every record under its room.
//
// Payloads are opaque to this package and everything above it. The broker
// moves session descriptions and ICE candidates verbatim; it never interprets
// them.
package signal

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies what a stored signal is.
type Kind string

const (
	KindOffer  Kind = "offer"
	KindAnswer Kind = "answer"

	// Candidate kinds are named for the producer; the record lands in the
	// collection named for the consumer (see DirectionFor).
	KindCandidateFromInitiator Kind = "candidate-from-initiator"
	KindCandidateFromReceiver  Kind = "candidate-from-receiver"
)

// Direction names a candidate collection from the consuming peer's
// perspective.
type Direction string

const (
	DirectionForInitiator Direction = "for-initiator"
	DirectionForReceiver  Direction = "for-receiver"
)

var (
	errUnknownKind      = errors.New("signal: unknown kind")
	errUnknownDirection = errors.New("signal: unknown direction")
)

// ParseKind validates a wire-level kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOffer, KindAnswer, KindCandidateFromInitiator, KindCandidateFromReceiver:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", errUnknownKind, s)
}

// ParseHandshakeKind validates a kind and requires it to be offer or answer.
func ParseHandshakeKind(s string) (Kind, error) {
	k, err := ParseKind(s)
	if err != nil {
		return "", err
	}
	if !k.IsHandshake() {
		return "", fmt.Errorf("%w: %q is not a handshake kind", errUnknownKind, s)
	}
	return k, nil
}

// ParseDirection validates a wire-level direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionForInitiator, DirectionForReceiver:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: %q", errUnknownDirection, s)
}

func (k Kind) IsHandshake() bool {
	return k == KindOffer || k == KindAnswer
}

func (k Kind) IsCandidate() bool {
	return k == KindCandidateFromInitiator || k == KindCandidateFromReceiver
}

// DirectionFor maps a candidate kind onto the collection its consumer polls:
// the initiator's candidates are for the receiver, and vice versa.
func (k Kind) DirectionFor() (Direction, bool) {
	switch k {
	case KindCandidateFromInitiator:
		return DirectionForReceiver, true
	case KindCandidateFromReceiver:
		return DirectionForInitiator, true
	}
	return "", false
}

const maxRoomIDLength = 64

// ValidRoomID reports whether id is usable as a room namespace. Room IDs are
// key path segments, so the charset is restricted to keep the keyspace flat
// and unambiguous.
func ValidRoomID(id string) bool {
	if id == "" || len(id) > maxRoomIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

// Keyspace layout, all scoped under one room:
//
//	rooms/<room>/offer
//	rooms/<room>/answer
//	rooms/<room>/cand/<direction>/<id>
const (
	roomPrefix   = "rooms/"
	candidateSeg = "cand"
	keySeparator = "/"
)

// RoomKey returns the prefix under which every record of a room lives.
func RoomKey(room string) string {
	return roomPrefix + room + keySeparator
}

// HandshakeKey returns the singleton key for a room's offer or answer.
func HandshakeKey(room string, kind Kind) string {
	return RoomKey(room) + string(kind)
}

// CandidateCollectionKey returns the prefix of one direction collection.
func CandidateCollectionKey(room string, dir Direction) string {
	return RoomKey(room) + candidateSeg + keySeparator + string(dir) + keySeparator
}

// CandidateKey returns the unique key of a single candidate record.
func CandidateKey(room string, dir Direction, id string) string {
	return CandidateCollectionKey(room, dir) + id
}

// CandidateIDFromKey recovers a candidate's unique ID from its full key.
func CandidateIDFromKey(room string, dir Direction, key string) (string, bool) {
	prefix := CandidateCollectionKey(room, dir)
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	id := key[len(prefix):]
	if id == "" || strings.Contains(id, keySeparator) {
		return "", false
	}
	return id, true
}
