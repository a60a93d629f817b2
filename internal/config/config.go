package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opencode-pilot/ocp/internal/opencode"
)

const (
	defaultServerURL       = "http://localhost:4096"
	defaultMaxIterations   = 10
	defaultNoProgressLimit = 3
	defaultRequestTimeout  = 120 * time.Second
	defaultRetryBackoff    = 2 * time.Second
	defaultLogMaxSizeBytes = 10 * 1024 * 1024
	defaultLogMaxFiles     = 5
)

// Config stores runtime settings loaded from TOML files. It is passed
// explicitly into constructors; nothing reads ambient process state after
// Load returns.
type Config struct {
	ServerURL       string
	CredentialsPath string
	MaxIterations   int
	NoProgressLimit int
	RequestTimeout  time.Duration
	RetryBackoff    time.Duration
	LogMaxSizeBytes int64
	LogMaxFiles     int
}

type fileConfig struct {
	ServerURL       *string `toml:"server_url"`
	CredentialsPath *string `toml:"credentials_path"`
	MaxIterations   *int    `toml:"max_iterations"`
	NoProgressLimit *int    `toml:"no_progress_limit"`
	RequestTimeout  *string `toml:"request_timeout"`
	RetryBackoff    *string `toml:"retry_backoff"`
	LogMaxSizeMB    *int    `toml:"log_max_size_mb"`
	LogMaxFiles     *int    `toml:"log_max_files"`
}

// Load reads config from ~/.ocp/config.toml, overlays a project-local
// .ocp/config.toml, then applies OCP_SERVER_URL / OCP_CREDENTIALS overrides.
func Load() (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".ocp", "config.toml"),
		filepath.Join(workingDir, ".ocp", "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaults() Config {
	return Config{
		ServerURL:       defaultServerURL,
		MaxIterations:   defaultMaxIterations,
		NoProgressLimit: defaultNoProgressLimit,
		RequestTimeout:  defaultRequestTimeout,
		RetryBackoff:    defaultRetryBackoff,
		LogMaxSizeBytes: defaultLogMaxSizeBytes,
		LogMaxFiles:     defaultLogMaxFiles,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if err := applyScalarOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	return applyLogOverrides(cfg, decoded, path)
}

func applyScalarOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.ServerURL != nil {
		cfg.ServerURL = strings.TrimSpace(*decoded.ServerURL)
	}
	if decoded.CredentialsPath != nil {
		cfg.CredentialsPath = strings.TrimSpace(*decoded.CredentialsPath)
	}
	if decoded.MaxIterations != nil {
		if *decoded.MaxIterations <= 0 {
			return fmt.Errorf("parse max_iterations in %q: must be > 0", path)
		}
		cfg.MaxIterations = *decoded.MaxIterations
	}
	if decoded.NoProgressLimit != nil {
		if *decoded.NoProgressLimit <= 0 {
			return fmt.Errorf("parse no_progress_limit in %q: must be > 0", path)
		}
		cfg.NoProgressLimit = *decoded.NoProgressLimit
	}
	return nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.RequestTimeout != nil {
		value, err := parseDuration(*decoded.RequestTimeout, "request_timeout", path)
		if err != nil {
			return err
		}
		cfg.RequestTimeout = value
	}
	if decoded.RetryBackoff != nil {
		value, err := parseDuration(*decoded.RetryBackoff, "retry_backoff", path)
		if err != nil {
			return err
		}
		cfg.RetryBackoff = value
	}
	return nil
}

func applyLogOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.LogMaxSizeMB != nil {
		if *decoded.LogMaxSizeMB <= 0 {
			return fmt.Errorf("parse log_max_size_mb in %q: must be > 0", path)
		}
		cfg.LogMaxSizeBytes = int64(*decoded.LogMaxSizeMB) * 1024 * 1024
	}
	if decoded.LogMaxFiles != nil {
		if *decoded.LogMaxFiles <= 0 {
			return fmt.Errorf("parse log_max_files in %q: must be > 0", path)
		}
		cfg.LogMaxFiles = *decoded.LogMaxFiles
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("OCP_SERVER_URL")); value != "" {
		cfg.ServerURL = value
	}
	if value := strings.TrimSpace(os.Getenv("OCP_CREDENTIALS")); value != "" {
		cfg.CredentialsPath = value
	}
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s in %q: must be positive", key, path)
	}
	return parsed, nil
}

// LoadCredentials reads the Basic auth pair from the configured JSON file.
// An empty path yields empty credentials, which the server may accept when
// authentication is disabled.
func LoadCredentials(path string) (opencode.Credentials, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return opencode.Credentials{}, nil
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return opencode.Credentials{}, fmt.Errorf("read credentials file %q: %w", trimmed, err)
	}

	var creds opencode.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return opencode.Credentials{}, fmt.Errorf("parse credentials file %q: %w", trimmed, err)
	}
	if strings.TrimSpace(creds.Username) == "" {
		return opencode.Credentials{}, fmt.Errorf("credentials file %q missing username", trimmed)
	}
	return creds, nil
}
