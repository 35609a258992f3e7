package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the loader.
const (
	EnvConfigPath    = "RATEGOV_CONFIG"
	EnvRedisAddr     = "RATEGOV_REDIS_ADDR"
	EnvRedisPassword = "RATEGOV_REDIS_PASSWORD"
	EnvDBConnection  = "RATEGOV_DB_CONNECTION"
	EnvJWTSecret     = "RATEGOV_JWT_SECRET"
	EnvJWTExpiry     = "RATEGOV_JWT_EXPIRY"
	EnvServiceName   = "RATEGOV_SERVICE_NAME"
)

// Backend kinds supported by the coordinator store.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Defaults applied when the config file omits or invalidates values.
const (
	defaultPriority          = 5
	defaultHeartbeatInterval = 30 * time.Second
	defaultJWTExpiry         = 24 * time.Hour
	defaultRedisPrefix       = "rategov"
)

// BackendConfig describes the distributed store backend.
type BackendConfig struct {
	Kind     string `yaml:"kind"`     // "redis" or "memory".
	Addr     string `yaml:"addr"`     // Redis address, host:port.
	Password string `yaml:"password"` // Redis password, optional.
	DB       int    `yaml:"db"`       // Redis database index.
	Prefix   string `yaml:"prefix"`   // Key prefix shared by all processes.
}

// JWTConfig holds JWT secret and expiry settings for the admin API.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// Config holds the full rategov configuration.
type Config struct {
	ServiceName       string        `yaml:"service-name"`       // Logical name reported to the quota allocator.
	Priority          int           `yaml:"priority"`           // Quota priority, 1-10, higher gets more.
	HeartbeatInterval time.Duration `yaml:"heartbeat-interval"` // Client heartbeat period.
	Port              int           `yaml:"port"`               // Status/admin HTTP port.

	Backend           BackendConfig `yaml:"backend"`
	FallbackOnFailure bool          `yaml:"fallback-on-failure"` // Degrade to local limiting when the backend is down.

	PrimaryIP string   `yaml:"primary-ip"`
	BackupIPs []string `yaml:"backup-ips"`

	DatabaseDSN    string    `yaml:"database-dsn"`     // Audit database DSN, sqlite path or postgres URL.
	JWT            JWTConfig `yaml:"jwt"`              // Admin API token signing.
	AdminTokenHash string    `yaml:"admin-token-hash"` // bcrypt hash of the admin login token.
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if trimmed == "" {
		trimmed = "./rategov.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file and applies environment overrides.
// A missing file is not an error: defaults plus environment values apply.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Priority:          defaultPriority,
		HeartbeatInterval: defaultHeartbeatInterval,
		FallbackOnFailure: true,
		Backend:           BackendConfig{Kind: BackendRedis, Prefix: defaultRedisPrefix},
		JWT:               JWTConfig{Expiry: defaultJWTExpiry},
	}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", configPath, errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return Config{}, fmt.Errorf("config: read %s: %w", configPath, errRead)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Backend.Addr = addr
	}
	if password := strings.TrimSpace(os.Getenv(EnvRedisPassword)); password != "" {
		cfg.Backend.Password = password
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
	if name := strings.TrimSpace(os.Getenv(EnvServiceName)); name != "" {
		cfg.ServiceName = name
	}
}

func normalize(cfg *Config) {
	cfg.ServiceName = strings.TrimSpace(cfg.ServiceName)
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rategov"
	}
	if cfg.Priority < 1 {
		cfg.Priority = 1
	}
	if cfg.Priority > 10 {
		cfg.Priority = 10
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}

	cfg.Backend.Kind = strings.ToLower(strings.TrimSpace(cfg.Backend.Kind))
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendRedis
	}
	cfg.Backend.Addr = strings.TrimSpace(cfg.Backend.Addr)
	cfg.Backend.Prefix = strings.TrimSpace(cfg.Backend.Prefix)
	if cfg.Backend.Prefix == "" {
		cfg.Backend.Prefix = defaultRedisPrefix
	}
	if cfg.Backend.DB < 0 {
		cfg.Backend.DB = 0
	}

	cfg.PrimaryIP = strings.TrimSpace(cfg.PrimaryIP)
	backups := make([]string, 0, len(cfg.BackupIPs))
	for _, ip := range cfg.BackupIPs {
		if trimmed := strings.TrimSpace(ip); trimmed != "" && trimmed != cfg.PrimaryIP {
			backups = append(backups, trimmed)
		}
	}
	cfg.BackupIPs = backups
}

// Validate reports configuration errors that prevent startup.
func Validate(cfg Config) error {
	switch cfg.Backend.Kind {
	case BackendRedis:
		if cfg.Backend.Addr == "" {
			return fmt.Errorf("config: backend kind %q requires an addr", cfg.Backend.Kind)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend kind: %s", cfg.Backend.Kind)
	}
	if cfg.Port != 0 && (cfg.Port < 1 || cfg.Port > 65535) {
		return fmt.Errorf("config: invalid port: %d", cfg.Port)
	}
	return nil
}
