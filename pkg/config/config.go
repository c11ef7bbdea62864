package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for bucketd.
//
// YAML example:
//   address: ":8080"
//   dataDir: "./data"
//   blobBackend: "fs"       # "fs" or "memory"
//   metadataBackend: "sqlite" # "sqlite" or "memory"
//   authMode: "none"        # "none" or "sigv4"
//   accessKeys:             # static credentials when authMode == "sigv4"
//     - accessKey: "AKIAEXAMPLE"
//       secretKey: "secret"
//       user: "local"
//
// Environment overrides use the BUCKETD_ prefix; see applyEnvOverrides.
// Keep this struct stable; add new fields with sensible defaults.
type Config struct {
	Address         string            `yaml:"address"`
	AdminAddress    string            `yaml:"adminAddress"` // optional separate admin/control-plane port
	DataDir         string            `yaml:"dataDir"`
	BlobBackend     string            `yaml:"blobBackend"`     // "fs" or "memory"
	MetadataBackend string            `yaml:"metadataBackend"` // "sqlite" or "memory"
	DBPath          string            `yaml:"dbPath"`          // bucket registry database; default <dataDir>/buckets.db
	AuthMode        string            `yaml:"authMode"`        // "none" or "sigv4"
	AccessKeys      []StaticAccessKey `yaml:"accessKeys"`
	Tracing         TracingConfig     `yaml:"tracing"`
	OIDC            OIDCConfig        `yaml:"oidc"`   // admin OIDC verification
	Limits          LimitsConfig      `yaml:"limits"` // request size limits
}

// StaticAccessKey defines a static credential pair.
type StaticAccessKey struct {
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	User      string `yaml:"user,omitempty"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`              // OTLP collector endpoint (host:port or URL)
	Protocol    string  `yaml:"protocol,omitempty"`    // "grpc" (default) or "http"
	SampleRatio float64 `yaml:"sampleRatio,omitempty"` // 0.0 - 1.0
	ServiceName string  `yaml:"serviceName,omitempty"` // override service.name; default "bucketd"
}

// OIDCConfig configures Admin API OIDC verification (disabled by default).
type OIDCConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Issuer   string `yaml:"issuer,omitempty"`
	ClientID string `yaml:"clientID,omitempty"`
	Audience string `yaml:"audience,omitempty"`
	JWKSURL  string `yaml:"jwksURL,omitempty"`
	// When OIDC is enabled, optionally allow unauthenticated access to selected
	// admin endpoints. Useful for k8s/lb health checks without distributing
	// tokens to probes.
	AllowUnauthHealth  bool `yaml:"allowUnauthHealth,omitempty"`
	AllowUnauthVersion bool `yaml:"allowUnauthVersion,omitempty"`
}

// LimitsConfig controls request size limits (bytes).
// Zero or missing values fall back to built-in defaults.
type LimitsConfig struct {
	SinglePutMaxBytes int64 `yaml:"singlePutMaxBytes"` // e.g., 5368709120 (5 GiB)
}

// Default returns a Config with safe, local defaults.
func Default() Config {
	return Config{
		Address:         ":8080",
		AdminAddress:    "",
		DataDir:         "./data",
		BlobBackend:     "fs",
		MetadataBackend: "sqlite",
		AuthMode:        "none",
		Tracing: TracingConfig{
			Enabled:     false,
			Protocol:    "grpc",
			SampleRatio: 0.0,
			ServiceName: "bucketd",
		},
		OIDC: OIDCConfig{
			Enabled: false,
		},
		Limits: LimitsConfig{
			SinglePutMaxBytes: 5 * 1024 * 1024 * 1024, // 5 GiB
		},
	}
}

// Load reads configuration from path. If path is empty, it attempts to read
// ./config.yaml; if not found, returns Default(). Environment overrides are
// applied last in all cases.
func Load(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path == "" {
		return applyEnvOverrides(Default()), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return applyEnvOverrides(Default()), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return applyEnvOverrides(cfg), nil
}

// Validate checks enum fields and cross-field requirements.
func Validate(cfg Config) error {
	switch cfg.BlobBackend {
	case "fs", "memory":
	default:
		return fmt.Errorf("invalid blobBackend %q (want \"fs\" or \"memory\")", cfg.BlobBackend)
	}
	switch cfg.MetadataBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid metadataBackend %q (want \"sqlite\" or \"memory\")", cfg.MetadataBackend)
	}
	switch cfg.AuthMode {
	case "none", "sigv4":
	default:
		return fmt.Errorf("invalid authMode %q (want \"none\" or \"sigv4\")", cfg.AuthMode)
	}
	if cfg.AuthMode == "sigv4" && len(cfg.AccessKeys) == 0 {
		return errors.New("authMode sigv4 requires at least one access key")
	}
	if cfg.OIDC.Enabled && cfg.OIDC.Issuer == "" && cfg.OIDC.JWKSURL == "" {
		return errors.New("oidc enabled but neither issuer nor jwksURL set")
	}
	return nil
}

// DatabasePath resolves the bucket registry location, defaulting to a file
// inside the data directory.
func DatabasePath(cfg Config) string {
	if cfg.DBPath != "" {
		return cfg.DBPath
	}
	return filepath.Join(cfg.DataDir, "buckets.db")
}

// EnsureDataDir creates the data directory with 0700 if it doesn't exist.
func EnsureDataDir(cfg Config) error {
	if cfg.DataDir == "" {
		return nil
	}
	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("abs path %q: %w", cfg.DataDir, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return fmt.Errorf("mkdir %q: %w", abs, err)
	}
	return nil
}

func applyEnvOverrides(cfg Config) Config {
	setStr := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes", "y", "on":
				*dst = true
			case "0", "false", "no", "n", "off":
				*dst = false
			}
		}
	}

	setStr("BUCKETD_ADDR", &cfg.Address)
	setStr("BUCKETD_ADMIN_ADDR", &cfg.AdminAddress)
	setStr("BUCKETD_DATA_DIR", &cfg.DataDir)
	setStr("BUCKETD_DB_PATH", &cfg.DBPath)

	if v := os.Getenv("BUCKETD_BLOB_BACKEND"); v != "" {
		b := strings.ToLower(strings.TrimSpace(v))
		if b == "fs" || b == "memory" {
			cfg.BlobBackend = b
		}
	}
	if v := os.Getenv("BUCKETD_METADATA_BACKEND"); v != "" {
		b := strings.ToLower(strings.TrimSpace(v))
		if b == "sqlite" || b == "memory" {
			cfg.MetadataBackend = b
		}
	}
	if v := os.Getenv("BUCKETD_AUTH_MODE"); v != "" {
		mode := strings.ToLower(strings.TrimSpace(v))
		if mode == "none" || mode == "sigv4" {
			cfg.AuthMode = mode
		}
	}
	// Comma-separated entries: ACCESS_KEY:SECRET_KEY[:USER]
	if v := os.Getenv("BUCKETD_ACCESS_KEYS"); v != "" {
		if keys := parseAccessKeysEnv(v); len(keys) > 0 {
			cfg.AccessKeys = keys
		}
	}

	setBool("BUCKETD_TRACING_ENABLED", &cfg.Tracing.Enabled)
	setStr("BUCKETD_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	if v := os.Getenv("BUCKETD_TRACING_PROTOCOL"); v != "" {
		p := strings.ToLower(strings.TrimSpace(v))
		if p == "grpc" || p == "http" {
			cfg.Tracing.Protocol = p
		}
	}
	if v := os.Getenv("BUCKETD_TRACING_SAMPLE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			if f < 0 {
				f = 0
			}
			if f > 1 {
				f = 1
			}
			cfg.Tracing.SampleRatio = f
		}
	}
	setStr("BUCKETD_TRACING_SERVICE", &cfg.Tracing.ServiceName)

	setBool("BUCKETD_OIDC_ENABLED", &cfg.OIDC.Enabled)
	setStr("BUCKETD_OIDC_ISSUER", &cfg.OIDC.Issuer)
	setStr("BUCKETD_OIDC_CLIENT_ID", &cfg.OIDC.ClientID)
	setStr("BUCKETD_OIDC_AUDIENCE", &cfg.OIDC.Audience)
	setStr("BUCKETD_OIDC_JWKS_URL", &cfg.OIDC.JWKSURL)
	setBool("BUCKETD_OIDC_ALLOW_UNAUTH_HEALTH", &cfg.OIDC.AllowUnauthHealth)
	setBool("BUCKETD_OIDC_ALLOW_UNAUTH_VERSION", &cfg.OIDC.AllowUnauthVersion)

	if v := os.Getenv("BUCKETD_LIMIT_SINGLE_PUT_MAX_BYTES"); v != "" {
		if x, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && x > 0 {
			cfg.Limits.SinglePutMaxBytes = x
		}
	}

	return cfg
}

func parseAccessKeysEnv(s string) []StaticAccessKey {
	var out []StaticAccessKey
	for _, e := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(e), ":")
		if len(parts) < 2 {
			continue
		}
		ak := strings.TrimSpace(parts[0])
		sk := strings.TrimSpace(parts[1])
		user := ""
		if len(parts) >= 3 {
			user = strings.TrimSpace(parts[2])
		}
		if ak == "" || sk == "" {
			continue
		}
		out = append(out, StaticAccessKey{AccessKey: ak, SecretKey: sk, User: user})
	}
	return out
}
