package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/tmp/whisper-test"
auth:
  jwt_secret: "topsecret"
  audience: "whisperchat"
  issuer: "whisperchat-gateway"
  handshake_timeout: "5s"
security:
  cors:
    allowed_origins:
      - "https://chat.example.com"
  rate_limit:
    rps: 20
    burst: 40
history:
  limit: 25
retention:
  enabled: true
  cron: "0 3 * * *"
  period: "30d"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
	if cfg.Auth.JWTSecret != "topsecret" || cfg.Auth.Audience != "whisperchat" {
		t.Fatalf("auth section = %+v", cfg.Auth)
	}
	if cfg.HandshakeTimeout() != 5*time.Second {
		t.Fatalf("HandshakeTimeout = %v", cfg.HandshakeTimeout())
	}
	if cfg.HistoryLimit() != 25 {
		t.Fatalf("HistoryLimit = %d", cfg.HistoryLimit())
	}
	if len(cfg.Security.CORS.AllowedOrigins) != 1 {
		t.Fatalf("origins = %v", cfg.Security.CORS.AllowedOrigins)
	}
	if cfg.Security.RateLimit.RPS != 20 || cfg.Security.RateLimit.Burst != 40 {
		t.Fatalf("rate limit = %+v", cfg.Security.RateLimit)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Cron != "0 3 * * *" {
		t.Fatalf("retention = %+v", cfg.Retention)
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("default Addr = %q", cfg.Addr())
	}
	if cfg.HandshakeTimeout() != 10*time.Second {
		t.Fatalf("default HandshakeTimeout = %v", cfg.HandshakeTimeout())
	}
	if cfg.HistoryLimit() != 50 {
		t.Fatalf("default HistoryLimit = %d", cfg.HistoryLimit())
	}
}

func TestRetentionPeriod(t *testing.T) {
	var cfg Config

	cfg.Retention.Period = "30d"
	d, err := cfg.RetentionPeriod()
	if err != nil || d != 30*24*time.Hour {
		t.Fatalf("30d -> %v %v", d, err)
	}

	cfg.Retention.Period = "720h"
	d, err = cfg.RetentionPeriod()
	if err != nil || d != 720*time.Hour {
		t.Fatalf("720h -> %v %v", d, err)
	}

	for _, bad := range []string{"", "soon", "xd"} {
		cfg.Retention.Period = bad
		if _, err := cfg.RetentionPeriod(); err == nil {
			t.Fatalf("period %q should be rejected", bad)
		}
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("WHISPERCHAT_ADDR", "10.0.0.5:7070")
	t.Setenv("WHISPERCHAT_DB_PATH", "/var/lib/whisper")
	t.Setenv("WHISPERCHAT_JWT_SECRET", "envsecret")
	t.Setenv("WHISPERCHAT_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("WHISPERCHAT_HISTORY_LIMIT", "10")

	cfg, used := ParseConfigEnvs()
	if !used {
		t.Fatalf("env source should be detected")
	}
	if cfg.Server.Address != "10.0.0.5" || cfg.Server.Port != 7070 {
		t.Fatalf("addr parsed as %q:%d", cfg.Server.Address, cfg.Server.Port)
	}
	if cfg.Server.DBPath != "/var/lib/whisper" || cfg.Auth.JWTSecret != "envsecret" {
		t.Fatalf("env config = %+v", cfg)
	}
	if len(cfg.Security.CORS.AllowedOrigins) != 2 {
		t.Fatalf("origins = %v", cfg.Security.CORS.AllowedOrigins)
	}
	if cfg.HistoryLimit() != 10 {
		t.Fatalf("HistoryLimit = %d", cfg.HistoryLimit())
	}
}

func TestLoadEffectiveConfigPrecedence(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "127.0.0.1"
	fileCfg.Server.Port = 9000
	fileCfg.Server.DBPath = "/from/file"
	fileCfg.Auth.JWTSecret = "filesecret"

	envCfg := &Config{}
	envCfg.Server.DBPath = "/from/env"

	// explicit --config with a missing file is fatal
	flags := Flags{Config: "/no/such/file.yaml", Set: map[string]bool{"config": true}}
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, envCfg, true); err == nil {
		t.Fatalf("explicit missing config file should fail")
	}

	// explicit --config with a present file wins outright
	flags = Flags{Config: "config.yaml", Set: map[string]bool{"config": true}}
	res, err := LoadEffectiveConfig(flags, fileCfg, true, envCfg, true)
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "config" || res.Addr != "127.0.0.1:9000" || res.DBPath != "/from/file" {
		t.Fatalf("config source result = %+v", res)
	}

	// addr flag overlays the file base and keeps its auth settings
	flags = Flags{Addr: ":6060", Set: map[string]bool{"addr": true}}
	res, err = LoadEffectiveConfig(flags, fileCfg, true, envCfg, true)
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "flags" || res.Addr != ":6060" {
		t.Fatalf("flags source result = %+v", res)
	}
	if res.Config.Auth.JWTSecret != "filesecret" {
		t.Fatalf("flag overlay lost file auth settings: %+v", res.Config.Auth)
	}

	// file beats env when no flags are set
	flags = Flags{Set: map[string]bool{}}
	res, err = LoadEffectiveConfig(flags, fileCfg, true, envCfg, true)
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "config" || res.DBPath != "/from/file" {
		t.Fatalf("file-over-env result = %+v", res)
	}

	// env is the fallback
	res, err = LoadEffectiveConfig(flags, &Config{}, false, envCfg, true)
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "env" || res.DBPath != "/from/env" {
		t.Fatalf("env fallback result = %+v", res)
	}
}
