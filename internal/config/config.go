package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// DefaultAdminCode is the instructor code. It is a UI gate, not a credential:
// anyone holding the binary can read it. Override at build time with
// -ldflags "-X verrou/internal/config.DefaultAdminCode=..." or with VERROU_ADMIN_CODE.
var DefaultAdminCode = "GIA2024"

// EnvProduction is the VERROU_ENV value that tightens startup checks.
const EnvProduction = "production"

// Config holds everything the server needs at startup.
type Config struct {
	Addr           string `toml:"addr"`
	DBPath         string `toml:"db_path"`
	Env            string `toml:"env"`
	CSRFKeyHex     string `toml:"csrf_key"`
	AdminCode      string `toml:"admin_code"`
	SnapshotKey    string `toml:"snapshot_key"`
	MessagingHost  string `toml:"messaging_host"`
	InstructorName string `toml:"instructor_name"`
	SlowRequestMs  int    `toml:"slow_request_ms"`
	SlowQueryMs    int    `toml:"slow_query_ms"`
}

var (
	ErrMissingAddr      = errors.New("addr is required")
	ErrMissingDBPath    = errors.New("db_path is required")
	ErrMissingAdminCode = errors.New("admin code cannot be empty")
	ErrBadCSRFKey       = errors.New("csrf key must be 64 hex characters (32 bytes)")
	ErrCSRFKeyRequired  = errors.New("csrf key is required in production")
)

// Load reads the optional TOML file at path, applies VERROU_* environment
// overrides and defaults, then validates.
// A missing file is not an error; an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Addr, "VERROU_ADDR")
	setString(&cfg.DBPath, "VERROU_DB_PATH")
	setString(&cfg.Env, "VERROU_ENV")
	setString(&cfg.CSRFKeyHex, "VERROU_CSRF_KEY")
	setString(&cfg.AdminCode, "VERROU_ADMIN_CODE")
	setString(&cfg.SnapshotKey, "VERROU_SNAPSHOT_KEY")
	setString(&cfg.MessagingHost, "VERROU_MESSAGING_HOST")
	setString(&cfg.InstructorName, "VERROU_INSTRUCTOR_NAME")
	setInt(&cfg.SlowRequestMs, "VERROU_SLOW_REQUEST_MS")
	setInt(&cfg.SlowQueryMs, "VERROU_SLOW_QUERY_MS")
}

func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "verrou.db"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.AdminCode == "" {
		cfg.AdminCode = DefaultAdminCode
	}
	if cfg.SlowRequestMs <= 0 {
		cfg.SlowRequestMs = 200
	}
	if cfg.SlowQueryMs <= 0 {
		cfg.SlowQueryMs = 50
	}
}

// Validate checks the merged configuration.
// PRE: defaults applied
// POST: Returns nil if the server can start with cfg
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrMissingAddr
	}
	if c.DBPath == "" {
		return ErrMissingDBPath
	}
	if c.AdminCode == "" {
		return ErrMissingAdminCode
	}
	if c.CSRFKeyHex != "" {
		if _, err := c.CSRFKey(); err != nil {
			return err
		}
	} else if c.IsProduction() {
		return ErrCSRFKeyRequired
	}
	return nil
}

// IsProduction reports whether the server runs with production checks.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// CSRFKey decodes the configured key. It returns nil, nil when none is set.
func (c *Config) CSRFKey() ([]byte, error) {
	if c.CSRFKeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.CSRFKeyHex)
	if err != nil || len(key) != 32 {
		return nil, ErrBadCSRFKey
	}
	return key, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
