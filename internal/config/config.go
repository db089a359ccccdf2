// Package config holds the relay and negotiator configuration types.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Role is the side of the consultation a connection speaks for.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// ParseRole reports whether s names a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePatient, RoleDoctor:
		return Role(s), true
	}
	return "", false
}

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config stores every tunable of the relay and of the join client.
type Config struct {
	HTTP       HTTPConfig       `koanf:"http"`
	Relay      RelayConfig      `koanf:"relay"`
	Store      StoreConfig      `koanf:"store"`
	ICE        ICEConfig        `koanf:"ice"`
	Negotiator NegotiatorConfig `koanf:"negotiator"`
	Stats      StatsConfig      `koanf:"stats"`
	Debug      bool             `koanf:"debug"`
}

type HTTPConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type RelayConfig struct {
	// EagerStart starts the relay with the process instead of on the first
	// bootstrap request.
	EagerStart     bool  `koanf:"eager_start"`
	SendBuffer     int   `koanf:"send_buffer"`
	MaxMessageSize int64 `koanf:"max_message_size"`
}

type StoreConfig struct {
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

type ICEConfig struct {
	Servers []string `koanf:"servers"`
}

type NegotiatorConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type StatsConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// DefaultSTUNServers is the public STUN pair used when none is configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Load builds a Config from defaults, the optional YAML file at path, and
// environment overrides, in increasing priority.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	if err := applyEnvOverrides(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q (want %q or %q)", c.Store.Backend, StoreFile, StoreSQLite)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("relay.send_buffer must be positive, got %d", c.Relay.SendBuffer)
	}
	return nil
}

func applyDefaults(k *koanf.Koanf) {
	setDefault(k, "http.addr", ":3000")
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)

	setDefault(k, "relay.eager_start", true)
	setDefault(k, "relay.send_buffer", 256)
	setDefault(k, "relay.max_message_size", 64*1024)

	setDefault(k, "store.backend", StoreFile)
	setDefault(k, "store.path", "db.json")

	setDefault(k, "ice.servers", DefaultSTUNServers)
	setDefault(k, "negotiator.timeout", 30*time.Second)
	setDefault(k, "stats.interval", 10*time.Second)
	setDefault(k, "debug", false)
}

func applyEnvOverrides(k *koanf.Koanf) error {
	if v := os.Getenv("CONSULTRELAY_ADDR"); v != "" {
		k.Set("http.addr", v)
	}
	if v := os.Getenv("CONSULTRELAY_STORE"); v != "" {
		k.Set("store.backend", v)
	}
	if v := os.Getenv("CONSULTRELAY_STORE_PATH"); v != "" {
		k.Set("store.path", v)
	}
	if v := os.Getenv("CONSULTRELAY_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CONSULTRELAY_DEBUG: %w", err)
		}
		k.Set("debug", debug)
	}
	return nil
}

// setDefault only sets the value if the key doesn't already exist.
func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}
