package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Validates(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate()=%v", err)
	}
	if cfg.Storage.Backend != "pebble" {
		t.Fatalf("backend=%q want=pebble", cfg.Storage.Backend)
	}
	if cfg.MaxMessages != 1000 || cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("maxMessages=%d reconnectDelay=%v", cfg.MaxMessages, cfg.ReconnectDelay)
	}
	if cfg.Collection != "stream.thought.blip" {
		t.Fatalf("collection=%q", cfg.Collection)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "etcd" }, wantErr: "unknown backend"},
		{name: "pebble without dir", mutate: func(c *Config) { c.Storage.DataDir = " " }, wantErr: "dataDir"},
		{name: "redis without addr", mutate: func(c *Config) { c.Storage.Backend = "redis"; c.Storage.RedisAddr = "" }, wantErr: "redisAddr"},
		{name: "postgres without url", mutate: func(c *Config) { c.Storage.Backend = "postgres" }, wantErr: "databaseURL"},
		{name: "zero bound", mutate: func(c *Config) { c.MaxMessages = 0 }, wantErr: "maxMessages"},
		{name: "empty collection", mutate: func(c *Config) { c.Collection = "" }, wantErr: "collection"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "logFormat"},
		{name: "memory ok", mutate: func(c *Config) { c.Storage.Backend = "memory"; c.Storage.DataDir = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate()=%v want=nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate()=%v want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfigFile_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thoughtstream.yaml")
	data := `
logLevel: debug
maxMessages: 50
reconnectDelay: 2s
wsAllowedOrigins: ["http://viewer.local"]
storage:
  backend: redis
  redisAddr: 10.0.0.1:6379
  redisDB: 2
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TS_MAX_MESSAGES", "75")
	t.Setenv("TS_REDIS_ADDR", "redis.internal:6380")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("logLevel=%q want=debug", cfg.LogLevel)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Fatalf("reconnectDelay=%v want=2s", cfg.ReconnectDelay)
	}
	if cfg.MaxMessages != 75 {
		t.Fatalf("maxMessages=%d want=75 (env wins over file)", cfg.MaxMessages)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.RedisAddr != "redis.internal:6380" || cfg.Storage.RedisDB != 2 {
		t.Fatalf("storage=%+v", cfg.Storage)
	}
	if len(cfg.WSAllowedOrigins) != 1 || cfg.WSAllowedOrigins[0] != "http://viewer.local" {
		t.Fatalf("wsAllowedOrigins=%v", cfg.WSAllowedOrigins)
	}
	// Untouched fields keep their defaults.
	if cfg.Collection != DefaultConfig().Collection {
		t.Fatalf("collection=%q", cfg.Collection)
	}
}

func TestLoadConfigFile_MissingAndMalformed(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfigFile(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
	if cfg.HTTPAddr != DefaultConfig().HTTPAddr {
		t.Fatalf("httpAddr=%q", cfg.HTTPAddr)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("maxMessages: [1, 2"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfigFile(bad); err == nil {
		t.Fatalf("malformed file should fail")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("storage:\n  backend: etcd\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfigFile(invalid); err == nil {
		t.Fatalf("invalid backend should fail validation")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TS_T_STR", "  value ")
	t.Setenv("TS_T_BOOL", "nope")
	t.Setenv("TS_T_INT", "-3")
	t.Setenv("TS_T_INT32", "7")
	t.Setenv("TS_T_DUR", "250ms")
	t.Setenv("TS_T_CSV", "a, ,b,")

	if got := EnvString("TS_T_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q want=value", got)
	}
	if got := EnvString("TS_T_UNSET", "def"); got != "def" {
		t.Fatalf("EnvString unset=%q want=def", got)
	}
	if got := EnvBool("TS_T_BOOL", true); !got {
		t.Fatalf("EnvBool invalid should keep default")
	}
	if got := EnvInt("TS_T_INT", 9); got != 9 {
		t.Fatalf("EnvInt negative=%d want=9", got)
	}
	if got := EnvInt32("TS_T_INT32", 1); got != 7 {
		t.Fatalf("EnvInt32=%d want=7", got)
	}
	if got := EnvDuration("TS_T_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration=%v want=250ms", got)
	}
	got := EnvCSV("TS_T_CSV", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("EnvCSV=%v want=[a b]", got)
	}
}
