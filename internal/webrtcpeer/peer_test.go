package webrtcpeer

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/signalhop/signalhop/internal/config"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	api, err := NewAPI(config.Config{}, slog.Default())
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	p, err := NewPeer(api, nil, slog.Default())
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCreateOffer_ProducesOfferDescription(t *testing.T) {
	p := newTestPeer(t)

	payload, err := p.CreateOffer(context.Background())
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		t.Fatalf("offer payload not a session description: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		t.Fatalf("type: got %v, want offer", desc.Type)
	}
	if desc.SDP == "" {
		t.Fatal("empty SDP")
	}
}

func TestAcceptOffer_RejectsNonOffer(t *testing.T) {
	p := newTestPeer(t)

	answerish, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if _, err := p.AcceptOffer(context.Background(), answerish); err == nil {
		t.Fatal("AcceptOffer accepted an answer-typed description")
	}
	if _, err := p.AcceptOffer(context.Background(), []byte("not json")); err == nil {
		t.Fatal("AcceptOffer accepted a non-JSON payload")
	}
}

func TestAcceptAnswer_RejectsNonAnswer(t *testing.T) {
	p := newTestPeer(t)
	if _, err := p.CreateOffer(context.Background()); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	offerish, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if err := p.AcceptAnswer(context.Background(), offerish); err == nil {
		t.Fatal("AcceptAnswer accepted an offer-typed description")
	}
}

func TestAddCandidate_ToleratesEndOfCandidates(t *testing.T) {
	p := newTestPeer(t)

	if err := p.AddCandidate([]byte(`{"candidate":""}`)); err != nil {
		t.Fatalf("empty candidate string: %v", err)
	}
	if err := p.AddCandidate([]byte(`nonsense`)); err == nil {
		t.Fatal("AddCandidate accepted a non-JSON payload")
	}
}

func TestSend_FailsBeforeDataChannel(t *testing.T) {
	p := newTestPeer(t)
	if err := p.Send([]byte("too early")); err == nil {
		t.Fatal("Send succeeded without a data channel")
	}
}

func TestClose_Idempotent(t *testing.T) {
	p := newTestPeer(t)
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
