package webrtcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/signalhop/signalhop/internal/rendezvous"
)

// DataChannelLabel is the single application channel both peers converge on.
// The initiator declares it in the offer; the receiver adopts it via
// OnDataChannel.
const DataChannelLabel = "hop"

// Peer wraps one PeerConnection behind the rendezvous Surface. Session
// descriptions and candidates cross the boundary as their pion JSON wire
// forms; the rendezvous layer never looks inside them.
//
// All methods are safe for concurrent use; the internal mutex serializes the
// handshake and candidate pollers' interleaved calls.
type Peer struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu          sync.Mutex
	dc          *webrtc.DataChannel
	onCandidate func(json.RawMessage)
	onState     func(rendezvous.ConnState)
	onMessage   func([]byte)

	ready     chan struct{}
	readyOnce sync.Once
	closed    bool
}

// NewPeer constructs a Peer over a fresh PeerConnection from api.
func NewPeer(api *webrtc.API, iceServers []webrtc.ICEServer, log *slog.Logger) (*Peer, error) {
	if log == nil {
		log = slog.Default()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Peer{
		pc:    pc,
		log:   log,
		ready: make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of gathering; trickle consumers need no terminator.
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			p.log.Warn("marshal candidate failed", "error", err)
			return
		}
		p.mu.Lock()
		fn := p.onCandidate
		p.mu.Unlock()
		if fn != nil {
			fn(payload)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("connection state changed", "state", state.String())
		mapped, ok := mapConnState(state)
		if !ok {
			return
		}
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(mapped)
		}
	})

	// Receiver side: adopt the channel the initiator declared.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			p.log.Warn("ignoring unexpected data channel", "label", dc.Label())
			return
		}
		p.adoptDataChannel(dc)
	})

	return p, nil
}

func mapConnState(state webrtc.PeerConnectionState) (rendezvous.ConnState, bool) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return rendezvous.ConnStateConnected, true
	case webrtc.PeerConnectionStateFailed:
		return rendezvous.ConnStateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return rendezvous.ConnStateClosed, true
	}
	// New/connecting/disconnected are transitional; disconnected in
	// particular can recover on its own and must not tear the session down.
	return 0, false
}

func (p *Peer) adoptDataChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.readyOnce.Do(func() { close(p.ready) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		fn := p.onMessage
		p.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

// CreateOffer declares the data channel, produces the local offer, and
// starts candidate gathering. Initiator side only.
func (p *Peer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	dc, err := p.pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	p.adoptDataChannel(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(offer)
}

// AcceptOffer applies the remote offer and produces the local answer.
// Receiver side only.
func (p *Peer) AcceptOffer(ctx context.Context, offerPayload json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerPayload, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("expected an offer, got %q", offer.Type)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(answer)
}

// AcceptAnswer applies the remote answer. Initiator side only.
func (p *Peer) AcceptAnswer(ctx context.Context, answerPayload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(answerPayload, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("expected an answer, got %q", answer.Type)
	}
	return p.pc.SetRemoteDescription(answer)
}

// AddCandidate applies one remote trickle candidate. Duplicate application
// is tolerated by the ICE agent.
func (p *Peer) AddCandidate(payload json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if init.Candidate == "" {
		return nil
	}
	return p.pc.AddICECandidate(init)
}

func (p *Peer) OnCandidate(fn func(json.RawMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *Peer) OnStateChange(fn func(rendezvous.ConnState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// OnMessage registers the handler for inbound data channel messages.
func (p *Peer) OnMessage(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = fn
}

// Ready is closed once the data channel is open in both directions.
func (p *Peer) Ready() <-chan struct{} {
	return p.ready
}

// Send writes one message to the data channel. Fails before Ready.
func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return errors.New("data channel not established")
	}
	return dc.Send(data)
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}

var _ rendezvous.Surface = (*Peer)(nil)
