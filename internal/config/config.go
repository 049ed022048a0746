// Package config loads the relay daemon's configuration from environment
// variables plus a small flag set, and constructs the process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "SIGNALHOP_LISTEN_ADDR"
	envVarMode            = "SIGNALHOP_MODE"
	envVarLogFormat       = "SIGNALHOP_LOG_FORMAT"
	envVarLogLevel        = "SIGNALHOP_LOG_LEVEL"
	envVarShutdownTimeout = "SIGNALHOP_SHUTDOWN_TIMEOUT"

	// Store backend selection.
	envVarStoreBackend  = "SIGNALHOP_STORE"
	envVarDynamoDBTable = "SIGNALHOP_DYNAMODB_TABLE"

	// Signaling surface hardening.
	envVarMaxRequestsPerSecond = "SIGNALHOP_MAX_REQUESTS_PER_SECOND"
	envVarRequestBurst         = "SIGNALHOP_REQUEST_BURST"
	envVarMaxPayloadBytes      = "SIGNALHOP_MAX_PAYLOAD_BYTES"

	// Watch endpoint server-side poll cadence.
	envVarWatchPollInterval = "SIGNALHOP_WATCH_POLL_INTERVAL"

	// Client-side rendezvous cadence (shared defaults for the peer CLI).
	envVarPollInterval    = "SIGNALHOP_POLL_INTERVAL"
	envVarStragglerPasses = "SIGNALHOP_STRAGGLER_PASSES"

	// ICE configuration handed to peers via GET /ice.
	envVarStunURLs = "SIGNALHOP_STUN_URLS"
	envVarTurnURLs = "SIGNALHOP_TURN_URLS"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	// WebRTC engine restrictions for the peer CLI.
	envVarWebRTCUDPPortMin  = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax  = "WEBRTC_UDP_PORT_MAX"
	envVarWebRTCUDPListenIP = "WEBRTC_UDP_LISTEN_IP"
)

const (
	DefaultListenAddr            = "127.0.0.1:8080"
	DefaultShutdown              = 15 * time.Second
	DefaultMode             Mode = ModeDev
	DefaultStore                 = StoreMemory
	DefaultMaxRequestsPerSecond  = 50
	DefaultRequestBurst          = 100
	DefaultMaxPayloadBytes       = int64(64 * 1024)
	DefaultWatchPollInterval     = 1 * time.Second
	DefaultPollInterval          = 2 * time.Second
	DefaultStragglerPasses       = 3

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "signalhop"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreDynamoDB StoreBackend = "dynamodb"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	Store         StoreBackend
	DynamoDBTable string

	MaxRequestsPerSecond int
	RequestBurst         int
	MaxPayloadBytes      int64

	WatchPollInterval time.Duration

	PollInterval    time.Duration
	StragglerPasses int

	// ICEServers is the client-facing ICE list served by GET /ice. TURN
	// entries are listed without credentials; TURN REST injects ephemeral
	// credentials per request when enabled.
	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion
	// uses OS ephemeral port selection.
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCUDPListenIP restricts which local interface address ICE binds UDP
	// sockets to. 0.0.0.0 means "use library default".
	WebRTCUDPListenIP net.IP
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	mode, err := parseMode(envOrDefault(lookup, envVarMode, string(DefaultMode)))
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	storeBackend, err := parseStoreBackend(envOrDefault(lookup, envVarStoreBackend, string(DefaultStore)))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	watchPollInterval, err := envDurationOrDefault(lookup, envVarWatchPollInterval, DefaultWatchPollInterval)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := envDurationOrDefault(lookup, envVarPollInterval, DefaultPollInterval)
	if err != nil {
		return Config{}, err
	}
	stragglerPasses, err := envIntOrDefault(lookup, envVarStragglerPasses, DefaultStragglerPasses)
	if err != nil {
		return Config{}, err
	}

	maxRequestsPerSecond, err := envIntOrDefault(lookup, envVarMaxRequestsPerSecond, DefaultMaxRequestsPerSecond)
	if err != nil {
		return Config{}, err
	}
	requestBurst, err := envIntOrDefault(lookup, envVarRequestBurst, DefaultRequestBurst)
	if err != nil {
		return Config{}, err
	}
	maxPayloadBytes, err := envInt64OrDefault(lookup, envVarMaxPayloadBytes, DefaultMaxPayloadBytes)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServers(
		envOrDefault(lookup, envVarStunURLs, ""),
		envOrDefault(lookup, envVarTurnURLs, ""),
	)
	if err != nil {
		return Config{}, err
	}

	turnRESTTTL, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}

	portRange, err := parsePortRange(
		envOrDefault(lookup, envVarWebRTCUDPPortMin, ""),
		envOrDefault(lookup, envVarWebRTCUDPPortMax, ""),
	)
	if err != nil {
		return Config{}, err
	}

	var listenIP net.IP
	if raw := envOrDefault(lookup, envVarWebRTCUDPListenIP, ""); raw != "" {
		listenIP = net.ParseIP(strings.TrimSpace(raw))
		if listenIP == nil {
			return Config{}, fmt.Errorf("invalid %s %q", envVarWebRTCUDPListenIP, raw)
		}
	}

	cfg := Config{
		ListenAddr:      envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		Store:         storeBackend,
		DynamoDBTable: envOrDefault(lookup, envVarDynamoDBTable, ""),

		MaxRequestsPerSecond: maxRequestsPerSecond,
		RequestBurst:         requestBurst,
		MaxPayloadBytes:      maxPayloadBytes,

		WatchPollInterval: watchPollInterval,
		PollInterval:      pollInterval,
		StragglerPasses:   stragglerPasses,

		ICEServers: iceServers,
		TURNREST: TurnRESTConfig{
			SharedSecret:   envOrDefault(lookup, envVarTURNRESTSharedSecret, ""),
			TTLSeconds:     turnRESTTTL,
			UsernamePrefix: envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix),
		},

		WebRTCUDPPortRange: portRange,
		WebRTCUDPListenIP:  listenIP,
	}

	fs := flag.NewFlagSet("signalhopd", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address")
	storeFlag := fs.String("store", string(cfg.Store), "store backend (memory|dynamodb)")
	fs.StringVar(&cfg.DynamoDBTable, "dynamodb-table", cfg.DynamoDBTable, "DynamoDB table for the dynamodb store backend")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Store, err = parseStoreBackend(*storeFlag); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%s must not be empty", envVarListenAddr)
	}
	if c.Store == StoreDynamoDB && strings.TrimSpace(c.DynamoDBTable) == "" {
		return fmt.Errorf("%s is required when %s=dynamodb", envVarDynamoDBTable, envVarStoreBackend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be > 0", envVarPollInterval)
	}
	if c.WatchPollInterval <= 0 {
		return fmt.Errorf("%s must be > 0", envVarWatchPollInterval)
	}
	if c.StragglerPasses < 0 {
		return fmt.Errorf("%s must be >= 0", envVarStragglerPasses)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMaxPayloadBytes)
	}
	if c.TURNREST.Enabled() && c.TURNREST.TTLSeconds <= 0 {
		return fmt.Errorf("%s must be > 0", envVarTURNRESTTTLSeconds)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

// parseICEServers builds the client-facing ICE list from comma-separated
// stun:/turn: URL lists. TURN entries are listed without credentials; the
// /ice endpoint injects ephemeral TURN REST credentials when configured.
func parseICEServers(stunURLs, turnURLs string) ([]webrtc.ICEServer, error) {
	servers := make([]webrtc.ICEServer, 0, 2)
	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		for _, u := range urls {
			if !strings.HasPrefix(strings.ToLower(u), "stun:") && !strings.HasPrefix(strings.ToLower(u), "stuns:") {
				return nil, fmt.Errorf("invalid %s entry %q: expected stun:/stuns: scheme", envVarStunURLs, u)
			}
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}
	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		for _, u := range urls {
			if !strings.HasPrefix(strings.ToLower(u), "turn:") && !strings.HasPrefix(strings.ToLower(u), "turns:") {
				return nil, fmt.Errorf("invalid %s entry %q: expected turn:/turns: scheme", envVarTurnURLs, u)
			}
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}
	return servers, nil
}

func splitCommaSeparated(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePortRange(minRaw, maxRaw string) (*UDPPortRange, error) {
	if strings.TrimSpace(minRaw) == "" && strings.TrimSpace(maxRaw) == "" {
		return nil, nil
	}
	if strings.TrimSpace(minRaw) == "" || strings.TrimSpace(maxRaw) == "" {
		return nil, fmt.Errorf("%s and %s must be set together", envVarWebRTCUDPPortMin, envVarWebRTCUDPPortMax)
	}
	minPort, err := parsePort(minRaw, envVarWebRTCUDPPortMin)
	if err != nil {
		return nil, err
	}
	maxPort, err := parsePort(maxRaw, envVarWebRTCUDPPortMax)
	if err != nil {
		return nil, err
	}
	if minPort > maxPort {
		return nil, fmt.Errorf("%s must be <= %s", envVarWebRTCUDPPortMin, envVarWebRTCUDPPortMax)
	}
	return &UDPPortRange{Min: minPort, Max: maxPort}, nil
}

func parsePort(raw, name string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return uint16(n), nil
}

// IsUnspecifiedIP reports whether ip is nil, 0.0.0.0, or ::.
func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.IsUnspecified()
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.TrimSpace(raw)) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	}
	return "", fmt.Errorf("invalid %s %q (expected dev or prod)", envVarMode, raw)
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.TrimSpace(raw)) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	}
	return "", fmt.Errorf("invalid %s %q (expected text or json)", envVarLogFormat, raw)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
}

func parseStoreBackend(raw string) (StoreBackend, error) {
	switch StoreBackend(strings.TrimSpace(raw)) {
	case StoreMemory:
		return StoreMemory, nil
	case StoreDynamoDB:
		return StoreDynamoDB, nil
	}
	return "", fmt.Errorf("invalid %s %q (expected memory or dynamodb)", envVarStoreBackend, raw)
}
