package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/signalhop/signalhop/internal/broker"
	"github.com/signalhop/signalhop/internal/signal"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultStragglerPasses = 3

	// teardownTimeout bounds the best-effort store cleanup on Close.
	teardownTimeout = 5 * time.Second
)

// Config configures one Session.
type Config struct {
	Room     string
	Exchange Exchange
	Surface  Surface

	Logger *slog.Logger

	// PollInterval is the cadence of the answer and candidate pollers.
	// Defaults to 2s.
	PollInterval time.Duration

	// StragglerPasses is how many additional candidate polls run after the
	// surface reports Connected, at twice the poll interval, to catch late
	// candidates. Zero means the default of 3; negative disables the
	// straggler passes entirely.
	StragglerPasses int

	// OnState, if set, observes session state transitions. Called with the
	// session lock held; must not call back into the session.
	OnState func(State)
}

// Session is one participant's rendezvous state machine. Create with
// NewSession, drive with Start, end with Close. All exported methods are safe
// for concurrent use.
type Session struct {
	room     string
	exchange Exchange
	surface  Surface
	log      *slog.Logger

	pollInterval    time.Duration
	stragglerPasses int
	onState         func(State)

	ctx    context.Context
	cancel context.CancelFunc

	// tickMu serializes poll ticks, both the scheduled ones and any run
	// early through Nudge, so a tick never races another tick.
	tickMu sync.Mutex

	mu    sync.Mutex
	state State
	role  Role
	// alive gates every poll tick: a tick observing alive=false does its
	// nothing and does not re-arm. This is the sole cancellation mechanism
	// for the pollers.
	alive bool
	// connected flips when the surface reports a connected state; it switches
	// the candidate poller into its bounded straggler phase.
	connected         bool
	stragglersLeft    int
	answerPollStopped bool
	pendingCandidates []json.RawMessage
	terminalErr       error
	closeOnce         sync.Once
	done              chan struct{}
}

func NewSession(cfg Config) (*Session, error) {
	if !signal.ValidRoomID(cfg.Room) {
		return nil, fmt.Errorf("bad room id %q", cfg.Room)
	}
	if cfg.Exchange == nil {
		return nil, errors.New("exchange is required")
	}
	if cfg.Surface == nil {
		return nil, errors.New("surface is required")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	stragglerPasses := cfg.StragglerPasses
	switch {
	case stragglerPasses == 0:
		stragglerPasses = defaultStragglerPasses
	case stragglerPasses < 0:
		stragglerPasses = 0
	}

	return &Session{
		room:     cfg.Room,
		exchange: cfg.Exchange,
		surface:  cfg.Surface,
		log:      log.With("room", cfg.Room),

		pollInterval:    pollInterval,
		stragglerPasses: stragglerPasses,
		onState:         cfg.OnState,

		state: StateIdle,
		done:  make(chan struct{}),
	}, nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the arbitration outcome, or RoleNone before arbitration.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error after Done is closed, or nil for a clean
// teardown.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalErr
}

// Start performs role arbitration and launches the pollers. It returns once
// the local side of the handshake is published; the exchange then proceeds in
// the background until Connected or Close.
//
// The arbitration check-then-act is not atomic against the store: two
// participants starting simultaneously can both observe "no offer" and both
// become initiator. Two-party use assumes out-of-band start ordering.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("start from state %s", s.state)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.alive = true
	s.stragglersLeft = s.stragglerPasses
	s.setStateLocked(StateRoleUnknown)
	s.mu.Unlock()

	s.surface.OnStateChange(s.handleConnState)

	// Register before arbitration: the surface may start gathering while the
	// local description is being created. Candidates arriving before the role
	// is decided are buffered and flushed below.
	s.surface.OnCandidate(func(candidate json.RawMessage) {
		go s.publishCandidate(candidate)
	})

	role, err := s.arbitrate(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.role = role
	if role == RoleInitiator {
		s.setStateLocked(StateInitiator)
	} else {
		s.setStateLocked(StateReceiver)
	}
	s.setStateLocked(StateNegotiating)
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()

	for _, candidate := range pending {
		go s.publishCandidate(candidate)
	}

	if role == RoleInitiator {
		s.schedule(s.pollInterval, s.answerTick)
	}
	s.schedule(s.pollInterval, s.candidateTick)
	return nil
}

// arbitrate decides the role: no offer present means we are the initiator
// and publish one; an existing offer means we are the receiver, answer it,
// and delete the consumed offer.
func (s *Session) arbitrate(ctx context.Context) (Role, error) {
	offer, err := s.exchange.FetchHandshake(ctx, s.room, signal.KindOffer)
	switch {
	case errors.Is(err, broker.ErrNotFound):
		local, err := s.surface.CreateOffer(ctx)
		if err != nil {
			return RoleNone, fmt.Errorf("create offer: %w", err)
		}
		if _, err := s.exchange.StoreSignal(ctx, s.room, signal.KindOffer, local); err != nil {
			return RoleNone, fmt.Errorf("publish offer: %w", err)
		}
		s.log.Info("assumed initiator role")
		return RoleInitiator, nil

	case err != nil:
		return RoleNone, fmt.Errorf("check offer: %w", err)

	default:
		answer, err := s.surface.AcceptOffer(ctx, offer)
		if err != nil {
			return RoleNone, fmt.Errorf("accept offer: %w", err)
		}
		if _, err := s.exchange.StoreSignal(ctx, s.room, signal.KindAnswer, answer); err != nil {
			return RoleNone, fmt.Errorf("publish answer: %w", err)
		}
		// The offer is consumed; delete it so the initiator stops relying on
		// it once an answer exists.
		if err := s.exchange.DeleteHandshake(ctx, s.room, signal.KindOffer); err != nil {
			s.log.Warn("delete consumed offer failed", "error", err)
		}
		s.log.Info("assumed receiver role")
		return RoleReceiver, nil
	}
}

func (s *Session) publishCandidate(candidate json.RawMessage) {
	s.mu.Lock()
	if s.alive && s.role == RoleNone {
		s.pendingCandidates = append(s.pendingCandidates, candidate)
		s.mu.Unlock()
		return
	}
	role := s.role
	alive := s.alive
	ctx := s.ctx
	s.mu.Unlock()
	if !alive {
		return
	}

	if _, err := s.exchange.StoreSignal(ctx, s.room, role.candidateKind(), candidate); err != nil {
		// Lost candidates degrade connectivity but are not fatal; the peer
		// may still connect over the remaining ones.
		s.log.Warn("publish candidate failed", "error", err)
	}
}

// schedule re-arms tick every interval while the session is alive and tick
// keeps returning a positive interval. A zero return stops that poller.
func (s *Session) schedule(interval time.Duration, tick func() time.Duration) {
	time.AfterFunc(interval, func() {
		s.mu.Lock()
		alive := s.alive
		s.mu.Unlock()
		if !alive {
			return
		}
		s.tickMu.Lock()
		next := tick()
		s.tickMu.Unlock()
		if next <= 0 {
			return
		}
		s.mu.Lock()
		alive = s.alive
		s.mu.Unlock()
		if !alive {
			return
		}
		s.schedule(next, tick)
	})
}

// Nudge runs one answer poll immediately instead of waiting out the current
// tick. Callers use it when an out-of-band notification (a watch push)
// reports the answer has arrived; polling still covers the case where the
// notification never comes. A no-op unless the session is an alive initiator
// still waiting for the answer.
func (s *Session) Nudge() {
	s.mu.Lock()
	waiting := s.alive && s.role == RoleInitiator && !s.answerPollStopped && !s.connected
	s.mu.Unlock()
	if !waiting {
		return
	}
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.answerTick()
}

// answerTick is the initiator's answer poller. NotFound keeps polling; a
// store failure retries on the next tick; a found answer is applied, deleted,
// and ends this poller.
func (s *Session) answerTick() time.Duration {
	s.mu.Lock()
	if s.answerPollStopped || s.connected {
		s.mu.Unlock()
		return 0
	}
	ctx := s.ctx
	s.mu.Unlock()

	answer, err := s.exchange.FetchHandshake(ctx, s.room, signal.KindAnswer)
	switch {
	case errors.Is(err, broker.ErrNotFound):
		return s.pollInterval
	case err != nil:
		s.log.Warn("answer poll failed", "error", err)
		return s.pollInterval
	}

	if err := s.surface.AcceptAnswer(ctx, answer); err != nil {
		s.fail(fmt.Errorf("%w: accept answer: %v", ErrNegotiationFailure, err))
		return 0
	}
	if err := s.exchange.DeleteHandshake(ctx, s.room, signal.KindAnswer); err != nil {
		s.log.Warn("delete consumed answer failed", "error", err)
	}

	s.mu.Lock()
	s.answerPollStopped = true
	s.mu.Unlock()
	s.log.Debug("answer applied")
	return 0
}

// candidateTick drains the inbound collection: fetch all, apply each,
// delete each by id. Malformed payloads are skipped but still deleted so
// they cannot poison future polls. After Connected the poller runs a bounded
// number of straggler passes at twice the interval, then stops.
func (s *Session) candidateTick() time.Duration {
	s.mu.Lock()
	ctx := s.ctx
	role := s.role
	connected := s.connected
	s.mu.Unlock()

	candidates, err := s.exchange.FetchCandidates(ctx, s.room, role.inboundDirection())
	if err != nil {
		s.log.Warn("candidate poll failed", "error", err)
		return s.nextCandidateInterval(connected)
	}

	for _, c := range candidates {
		if len(c.Payload) == 0 || !json.Valid(c.Payload) {
			s.log.Warn("skipping malformed candidate", "id", c.ID)
		} else if err := s.surface.AddCandidate(c.Payload); err != nil {
			s.log.Warn("apply candidate failed", "id", c.ID, "error", err)
		}
		if err := s.exchange.DeleteCandidate(ctx, s.room, role.inboundDirection(), c.ID); err != nil {
			s.log.Warn("delete candidate failed", "id", c.ID, "error", err)
		}
	}

	return s.nextCandidateInterval(connected)
}

func (s *Session) nextCandidateInterval(wasConnected bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return s.pollInterval
	}
	// The pass that just ran counts against the straggler budget only once
	// the connected state was already visible when it started.
	if wasConnected {
		if s.stragglersLeft <= 0 {
			return 0
		}
		s.stragglersLeft--
		if s.stragglersLeft == 0 {
			return 0
		}
	}
	return 2 * s.pollInterval
}

func (s *Session) handleConnState(state ConnState) {
	switch state {
	case ConnStateConnected:
		s.mu.Lock()
		if s.alive && !s.connected {
			s.connected = true
			s.answerPollStopped = true
			s.setStateLocked(StateConnected)
			s.log.Info("connected")
		}
		s.mu.Unlock()
	case ConnStateFailed:
		s.fail(ErrNegotiationFailure)
	case ConnStateClosed:
		// Surface closed underneath us; tear down our side.
		s.Close()
	}
}

// fail records a terminal error and tears the session down.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.terminalErr == nil {
		s.terminalErr = err
	}
	s.mu.Unlock()
	s.log.Error("session failed", "error", err)
	s.Close()
}

// Close tears the session down: suppress further polling, close the surface,
// then best-effort delete the room's offer and answer records. Idempotent;
// cleanup failures are logged, never raised. Candidate stragglers are left
// for the maintenance sweep.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.alive = false
		s.setStateLocked(StateClosed)
		cancel := s.cancel
		s.mu.Unlock()

		if err := s.surface.Close(); err != nil {
			s.log.Warn("close surface failed", "error", err)
		}

		ctx, done := context.WithTimeout(context.Background(), teardownTimeout)
		defer done()
		if err := s.exchange.DeleteHandshake(ctx, s.room, signal.KindOffer); err != nil {
			s.log.Warn("teardown: delete offer failed", "error", err)
		}
		if err := s.exchange.DeleteHandshake(ctx, s.room, signal.KindAnswer); err != nil {
			s.log.Warn("teardown: delete answer failed", "error", err)
		}

		if cancel != nil {
			cancel()
		}
		close(s.done)
	})
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.onState != nil {
		s.onState(state)
	}
}
