package metrics

import "sync"

// Event counter names used across the relay service.
const (
	SignalStored      = "signal_stored"
	HandshakeFetched  = "handshake_fetched"
	CandidatesFetched = "candidates_fetched"
	HandshakeDeleted  = "handshake_deleted"
	CandidateDeleted  = "candidate_deleted"
	RoomSwept         = "room_swept"
	WatchSessions     = "watch_sessions"

	DropReasonRateLimited = "rate_limited"
	DropReasonInvalid     = "invalid_request"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The service is expected to plug into a real metrics backend eventually;
// this type keeps the broker and surface logic testable in the meantime.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is nil-safe so call sites don't need to guard on optional wiring.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
