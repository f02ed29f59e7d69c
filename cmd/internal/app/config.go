package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"thoughtstream/cmd/internal/atproto"
	"thoughtstream/cmd/internal/feed"
	"thoughtstream/cmd/internal/identity"
	"thoughtstream/cmd/internal/storage"
	"thoughtstream/cmd/internal/stream"
	jetstreamv1 "thoughtstream/shared/contracts/jetstream/v1"
)

// Config contains all runtime configuration.
//
// Precedence: built-in defaults, then the YAML file named by TS_CONFIG_FILE (if it exists),
// then TS_* environment variables, then per-command flags.
type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // json | text | pretty

	// HTTPAddr is the local viewer/ops listener. Empty disables it.
	HTTPAddr          string        `yaml:"httpAddr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes    int           `yaml:"maxHeaderBytes"`
	EnableMetrics     bool          `yaml:"enableMetrics"`

	WSAllowedOrigins []string `yaml:"wsAllowedOrigins"`
	WSOriginRequired bool     `yaml:"wsOriginRequired"`

	JetstreamURL   string        `yaml:"jetstreamURL"`
	Collection     string        `yaml:"collection"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	MaxMessages    int           `yaml:"maxMessages"`

	AppViewURL string `yaml:"appViewURL"`
	ServiceURL string `yaml:"serviceURL"`

	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // pebble | redis | postgres | memory

	DataDir    string `yaml:"dataDir"`
	PebbleSync bool   `yaml:"pebbleSync"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisPrefix   string `yaml:"redisPrefix"`

	DatabaseURL string `yaml:"databaseURL"`
	DBSchema    string `yaml:"dbSchema"`
	DBMaxConns  int32  `yaml:"dbMaxConns"`
	DBMinConns  int32  `yaml:"dbMinConns"`
}

// DefaultConfig returns built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "json",

		HTTPAddr:          "127.0.0.1:8787",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		EnableMetrics:     true,

		WSAllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},

		JetstreamURL:   jetstreamv1.DefaultEndpoint,
		Collection:     jetstreamv1.BlipCollection,
		ReconnectDelay: stream.DefaultReconnectDelay,
		MaxMessages:    feed.DefaultMaxMessages,

		AppViewURL: identity.DefaultAppViewURL,
		ServiceURL: atproto.DefaultService,

		Storage: StorageConfig{
			Backend:     string(storage.KindPebble),
			DataDir:     defaultDataDir(),
			PebbleSync:  true,
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "thoughtstream:",
			DBSchema:    "thoughtstream",
			DBMaxConns:  4,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "thoughtstream")
	}
	return ".thoughtstream"
}

// LoadConfig builds a Config from defaults, the YAML file named by TS_CONFIG_FILE and the
// environment.
func LoadConfig() (Config, error) {
	return LoadConfigFile(EnvString("TS_CONFIG_FILE", ""))
}

// LoadConfigFile is LoadConfig with an explicit file path. An empty path skips the file.
// A missing file is not an error; an unreadable or malformed one is.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = EnvString("TS_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("TS_LOG_FORMAT", cfg.LogFormat)

	cfg.HTTPAddr = EnvString("TS_HTTP_ADDR", cfg.HTTPAddr)
	cfg.ReadHeaderTimeout = EnvDuration("TS_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("TS_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.IdleTimeout = EnvDuration("TS_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("TS_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)
	cfg.EnableMetrics = EnvBool("TS_ENABLE_METRICS", cfg.EnableMetrics)

	cfg.WSAllowedOrigins = EnvCSV("TS_WS_ALLOWED_ORIGINS", cfg.WSAllowedOrigins)
	cfg.WSOriginRequired = EnvBool("TS_WS_ORIGIN_REQUIRED", cfg.WSOriginRequired)

	cfg.JetstreamURL = EnvString("TS_JETSTREAM_URL", cfg.JetstreamURL)
	cfg.Collection = EnvString("TS_COLLECTION", cfg.Collection)
	cfg.ReconnectDelay = EnvDuration("TS_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.MaxMessages = EnvInt("TS_MAX_MESSAGES", cfg.MaxMessages)

	cfg.AppViewURL = EnvString("TS_APPVIEW_URL", cfg.AppViewURL)
	cfg.ServiceURL = EnvString("TS_SERVICE_URL", cfg.ServiceURL)

	s := &cfg.Storage
	s.Backend = EnvString("TS_STORAGE", s.Backend)
	s.DataDir = EnvString("TS_DATA_DIR", s.DataDir)
	s.PebbleSync = EnvBool("TS_PEBBLE_SYNC", s.PebbleSync)
	s.RedisAddr = EnvString("TS_REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = EnvString("TS_REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = EnvInt("TS_REDIS_DB", s.RedisDB)
	s.RedisPrefix = EnvString("TS_REDIS_PREFIX", s.RedisPrefix)
	s.DatabaseURL = EnvString("TS_DATABASE_URL", s.DatabaseURL)
	s.DBSchema = EnvString("TS_DB_SCHEMA", s.DBSchema)
	s.DBMaxConns = EnvInt32("TS_DB_MAX_CONNS", s.DBMaxConns)
	s.DBMinConns = EnvInt32("TS_DB_MIN_CONNS", s.DBMinConns)
}

// Validate rejects configurations that cannot start.
func (c Config) Validate() error {
	kind, err := storage.ParseKind(c.Storage.Backend)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch kind {
	case storage.KindPebble:
		if strings.TrimSpace(c.Storage.DataDir) == "" {
			return errors.New("config: storage.dataDir is required for pebble")
		}
	case storage.KindRedis:
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return errors.New("config: storage.redisAddr is required for redis")
		}
	case storage.KindPostgres:
		if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
			return errors.New("config: storage.databaseURL is required for postgres")
		}
	}
	if c.MaxMessages <= 0 {
		return errors.New("config: maxMessages must be positive")
	}
	if strings.TrimSpace(c.Collection) == "" {
		return errors.New("config: collection is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text", "pretty":
	default:
		return fmt.Errorf("config: unknown logFormat %q", c.LogFormat)
	}
	return nil
}
