// Package signaling implements the relay's HTTP surface: six stateless
// operations translating signaling requests onto the shared store, plus a
// WebSocket watch endpoint for clients that prefer pushes over polling.
package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/signalhop/signalhop/internal/broker"
	"github.com/signalhop/signalhop/internal/metrics"
	"github.com/signalhop/signalhop/internal/ratelimit"
	"github.com/signalhop/signalhop/internal/signal"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Broker *broker.Service

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Limiter throttles requests per remote address. If nil, requests are
	// unlimited.
	Limiter *ratelimit.RemoteLimiter

	// MaxPayloadBytes bounds the request body of POST /rooms/{room}/signals.
	MaxPayloadBytes int64

	// WatchPollInterval is the server-side store poll cadence backing the
	// watch WebSocket.
	WatchPollInterval time.Duration
}

// Server implements the relay's HTTP signaling surface.
//
// Endpoints:
//   - POST   /rooms/{room}/signals                      : store one signal
//   - GET    /rooms/{room}/handshake/{kind}             : fetch offer/answer
//   - DELETE /rooms/{room}/handshake/{kind}             : consume offer/answer
//   - GET    /rooms/{room}/candidates/{direction}       : fetch a collection
//   - DELETE /rooms/{room}/candidates/{direction}/{id}  : consume one candidate
//   - DELETE /rooms/{room}                              : sweep the room
//   - GET    /rooms/{room}/watch                        : WebSocket handshake watch
type Server struct {
	Broker  *broker.Service
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Limiter *ratelimit.RemoteLimiter

	MaxPayloadBytes   int64
	WatchPollInterval time.Duration
}

func NewServer(cfg Config) *Server {
	return &Server{
		Broker:  cfg.Broker,
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
		Limiter: cfg.Limiter,

		MaxPayloadBytes:   cfg.MaxPayloadBytes,
		WatchPollInterval: cfg.WatchPollInterval,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms/{room}/signals", s.handleStoreSignal)
	mux.HandleFunc("GET /rooms/{room}/handshake/{kind}", s.handleFetchHandshake)
	mux.HandleFunc("DELETE /rooms/{room}/handshake/{kind}", s.handleDeleteHandshake)
	mux.HandleFunc("GET /rooms/{room}/candidates/{direction}", s.handleFetchCandidates)
	mux.HandleFunc("DELETE /rooms/{room}/candidates/{direction}/{id}", s.handleDeleteCandidate)
	mux.HandleFunc("DELETE /rooms/{room}", s.handleDeleteRoom)
	mux.HandleFunc("GET /rooms/{room}/watch", s.handleWatch)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) maxPayloadBytes() int64 {
	if s.MaxPayloadBytes <= 0 {
		return 64 * 1024
	}
	return s.MaxPayloadBytes
}

func (s *Server) watchPollInterval() time.Duration {
	if s.WatchPollInterval <= 0 {
		return 1 * time.Second
	}
	return s.WatchPollInterval
}

// allow applies the per-remote rate limit. A false return has already written
// the 429 response.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.Limiter.Allow(remoteKey(r)) {
		return true
	}
	s.Metrics.Inc(metrics.DropReasonRateLimited)
	writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	return false
}

func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleStoreSignal(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxPayloadBytes()))
	if err != nil {
		s.Metrics.Inc(metrics.DropReasonInvalid)
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body too large or unreadable")
		return
	}

	var req StoreSignalRequest
	if err := decodeStrictJSON(body, &req); err != nil {
		s.Metrics.Inc(metrics.DropReasonInvalid)
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.Metrics.Inc(metrics.DropReasonInvalid)
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, err := s.Broker.StoreSignal(r.Context(), r.PathValue("room"), signal.Kind(req.Kind), req.Payload)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, StoreSignalResponse{ID: id})
}

func (s *Server) handleFetchHandshake(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	kind := r.PathValue("kind")
	payload, err := s.Broker.FetchHandshake(r.Context(), r.PathValue("room"), signal.Kind(kind))
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HandshakeResponse{Kind: kind, Payload: payload})
}

func (s *Server) handleDeleteHandshake(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	err := s.Broker.DeleteHandshake(r.Context(), r.PathValue("room"), signal.Kind(r.PathValue("kind")))
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetchCandidates(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	candidates, err := s.Broker.FetchCandidates(r.Context(), r.PathValue("room"), signal.Direction(r.PathValue("direction")))
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}

	wire := make([]CandidateWire, 0, len(candidates))
	for _, c := range candidates {
		wire = append(wire, CandidateWire{ID: c.ID, Payload: c.Payload})
	}
	writeJSON(w, http.StatusOK, CandidatesResponse{Candidates: wire})
}

func (s *Server) handleDeleteCandidate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	err := s.Broker.DeleteCandidate(r.Context(), r.PathValue("room"), signal.Direction(r.PathValue("direction")), r.PathValue("id"))
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	if err := s.Broker.DeleteRoom(r.Context(), r.PathValue("room")); err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, broker.ErrInvalidRequest):
		s.Metrics.Inc(metrics.DropReasonInvalid)
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, broker.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, broker.ErrStoreUnavailable):
		s.logger().Warn("store unavailable", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "store_unavailable", "store unavailable")
	default:
		s.logger().Error("internal error", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
