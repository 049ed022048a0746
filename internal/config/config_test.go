package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr: got %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode: got %q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat: got %q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel: got %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("Store: got %q, want %q", cfg.Store, StoreMemory)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("PollInterval: got %v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.StragglerPasses != DefaultStragglerPasses {
		t.Fatalf("StragglerPasses: got %d, want %d", cfg.StragglerPasses, DefaultStragglerPasses)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatal("TURN REST enabled without a shared secret")
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers: got %v, want none", cfg.ICEServers)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("WebRTCUDPPortRange: got %+v, want nil", cfg.WebRTCUDPPortRange)
	}
}

func TestLoad_ProdModeSwitchesLogDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"SIGNALHOP_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("LogFormat: got %q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel: got %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"SIGNALHOP_LISTEN_ADDR":      "0.0.0.0:9000",
		"SIGNALHOP_STORE":            "dynamodb",
		"SIGNALHOP_DYNAMODB_TABLE":   "signalhop-rooms",
		"SIGNALHOP_POLL_INTERVAL":    "500ms",
		"SIGNALHOP_STRAGGLER_PASSES": "5",
		"SIGNALHOP_LOG_LEVEL":        "warn",
		"TURN_REST_SHARED_SECRET":    "s3cret",
		"TURN_REST_TTL_SECONDS":      "600",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr: got %q", cfg.ListenAddr)
	}
	if cfg.Store != StoreDynamoDB || cfg.DynamoDBTable != "signalhop-rooms" {
		t.Fatalf("store config: got %q/%q", cfg.Store, cfg.DynamoDBTable)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Fatalf("PollInterval: got %v", cfg.PollInterval)
	}
	if cfg.StragglerPasses != 5 {
		t.Fatalf("StragglerPasses: got %d", cfg.StragglerPasses)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel: got %v", cfg.LogLevel)
	}
	if !cfg.TURNREST.Enabled() || cfg.TURNREST.TTLSeconds != 600 {
		t.Fatalf("TURNREST: got %+v", cfg.TURNREST)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"SIGNALHOP_LISTEN_ADDR": "127.0.0.1:1111",
	}), []string{"-listen-addr", "127.0.0.1:2222", "-store", "memory"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:2222" {
		t.Fatalf("ListenAddr: got %q, want flag value", cfg.ListenAddr)
	}
}

func TestLoad_DynamoDBRequiresTable(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{
		"SIGNALHOP_STORE": "dynamodb",
	}), nil)
	if err == nil {
		t.Fatal("load accepted dynamodb backend without a table")
	}
	if !strings.Contains(err.Error(), "SIGNALHOP_DYNAMODB_TABLE") {
		t.Fatalf("error does not name the missing variable: %v", err)
	}
}

func TestLoad_ICEServers(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"SIGNALHOP_STUN_URLS": "stun:stun1.example.com:3478, stun:stun2.example.com:3478",
		"SIGNALHOP_TURN_URLS": "turn:turn.example.com:3478?transport=udp",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers: got %d entries, want 2", len(cfg.ICEServers))
	}
	if len(cfg.ICEServers[0].URLs) != 2 {
		t.Fatalf("STUN URLs: got %v", cfg.ICEServers[0].URLs)
	}
	if cfg.ICEServers[1].URLs[0] != "turn:turn.example.com:3478?transport=udp" {
		t.Fatalf("TURN URLs: got %v", cfg.ICEServers[1].URLs)
	}
}

func TestLoad_RejectsWrongICEScheme(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{
		"SIGNALHOP_STUN_URLS": "turn:oops.example.com:3478",
	}), nil)
	if err == nil {
		t.Fatal("load accepted a turn: URL in the STUN list")
	}
}

func TestLoad_UDPPortRange(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"WEBRTC_UDP_PORT_MIN": "50000",
		"WEBRTC_UDP_PORT_MAX": "50099",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil {
		t.Fatal("WebRTCUDPPortRange not set")
	}
	if cfg.WebRTCUDPPortRange.Min != 50000 || cfg.WebRTCUDPPortRange.Max != 50099 {
		t.Fatalf("port range: got %+v", cfg.WebRTCUDPPortRange)
	}

	if _, err := load(lookupFrom(map[string]string{
		"WEBRTC_UDP_PORT_MIN": "50100",
		"WEBRTC_UDP_PORT_MAX": "50000",
	}), nil); err == nil {
		t.Fatal("load accepted an inverted port range")
	}

	if _, err := load(lookupFrom(map[string]string{
		"WEBRTC_UDP_PORT_MIN": "50000",
	}), nil); err == nil {
		t.Fatal("load accepted a half-specified port range")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"mode":      {"SIGNALHOP_MODE": "staging"},
		"format":    {"SIGNALHOP_LOG_FORMAT": "xml"},
		"level":     {"SIGNALHOP_LOG_LEVEL": "verbose"},
		"store":     {"SIGNALHOP_STORE": "redis"},
		"poll":      {"SIGNALHOP_POLL_INTERVAL": "fast"},
		"zero poll": {"SIGNALHOP_POLL_INTERVAL": "0s"},
		"passes":    {"SIGNALHOP_STRAGGLER_PASSES": "-1"},
		"listen ip": {"WEBRTC_UDP_LISTEN_IP": "not-an-ip"},
	}
	for name, env := range cases {
		if _, err := load(lookupFrom(env), nil); err == nil {
			t.Errorf("%s: load accepted invalid value %v", name, env)
		}
	}
}
