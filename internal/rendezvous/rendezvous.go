// Package rendezvous drives one participant's side of the two-party
// handshake: role arbitration, offer/answer exchange, candidate exchange,
// and idempotent teardown.
//
// Two Session instances, one per participant, interact only through an
// Exchange. They share no memory and may start in any order, any number of
// times, from separate processes.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/signalhop/signalhop/internal/broker"
	"github.com/signalhop/signalhop/internal/signal"
)

// Exchange is the relay operation surface a Session runs against. It is
// satisfied by both *broker.Service (in-process) and *signaling.Client
// (remote relay), so the rendezvous logic is identical either way.
type Exchange interface {
	StoreSignal(ctx context.Context, room string, kind signal.Kind, payload json.RawMessage) (string, error)
	FetchHandshake(ctx context.Context, room string, kind signal.Kind) (json.RawMessage, error)
	FetchCandidates(ctx context.Context, room string, dir signal.Direction) ([]broker.Candidate, error)
	DeleteHandshake(ctx context.Context, room string, kind signal.Kind) error
	DeleteCandidate(ctx context.Context, room string, dir signal.Direction, id string) error
	DeleteRoom(ctx context.Context, room string) error
}

// Surface is the local negotiation surface: the transport engine that
// produces and consumes session descriptions and candidates. Payloads are
// opaque to the rendezvous layer and moved verbatim.
//
// Implementations must serialize concurrent calls internally; the handshake
// and candidate pollers invoke the surface from independent goroutines.
type Surface interface {
	// CreateOffer produces the local session description for the initiator
	// role.
	CreateOffer(ctx context.Context) (json.RawMessage, error)

	// AcceptOffer applies the remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)

	// AcceptAnswer applies the remote answer on the initiator side.
	AcceptAnswer(ctx context.Context, answer json.RawMessage) error

	// AddCandidate applies one remote connectivity candidate. Duplicate
	// application must be tolerated.
	AddCandidate(candidate json.RawMessage) error

	// OnCandidate registers the callback invoked for each locally gathered
	// candidate.
	OnCandidate(func(candidate json.RawMessage))

	// OnStateChange registers the callback invoked on connection-state
	// transitions.
	OnStateChange(func(ConnState))

	Close() error
}

// ConnState is the Surface's connectivity state, reduced to what the
// rendezvous machine reacts to.
type ConnState int

const (
	ConnStateNew ConnState = iota
	ConnStateConnected
	ConnStateFailed
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "new"
	case ConnStateConnected:
		return "connected"
	case ConnStateFailed:
		return "failed"
	case ConnStateClosed:
		return "closed"
	}
	return "unknown"
}

// State is a Session's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRoleUnknown
	StateInitiator
	StateReceiver
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRoleUnknown:
		return "role-unknown"
	case StateInitiator:
		return "initiator"
	case StateReceiver:
		return "receiver"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Role is the arbitration outcome.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleReceiver:
		return "receiver"
	}
	return "none"
}

// candidateKind returns the kind this role publishes its own candidates
// under. The record lands in the collection the peer polls.
func (r Role) candidateKind() signal.Kind {
	if r == RoleInitiator {
		return signal.KindCandidateFromInitiator
	}
	return signal.KindCandidateFromReceiver
}

// inboundDirection returns the collection this role consumes.
func (r Role) inboundDirection() signal.Direction {
	if r == RoleInitiator {
		return signal.DirectionForInitiator
	}
	return signal.DirectionForReceiver
}

// ErrNegotiationFailure marks a terminal failed connectivity state reported
// by the Surface. The session is torn down.
var ErrNegotiationFailure = errors.New("rendezvous: negotiation failure")
