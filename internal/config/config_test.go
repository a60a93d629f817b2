package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultsAreUsedWithoutConfigFiles(t *testing.T) {
	t.Parallel()

	cfg := defaults()
	if cfg.ServerURL != "http://localhost:4096" {
		t.Fatalf("server url = %q", cfg.ServerURL)
	}
	if cfg.MaxIterations != 10 {
		t.Fatalf("max iterations = %d, want 10", cfg.MaxIterations)
	}
	if cfg.NoProgressLimit != 3 {
		t.Fatalf("no-progress limit = %d, want 3", cfg.NoProgressLimit)
	}
	if cfg.RetryBackoff != 2*time.Second {
		t.Fatalf("retry backoff = %s, want 2s", cfg.RetryBackoff)
	}
}

func TestOverlayFromFileAppliesValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
server_url = "https://agent.internal:4096"
credentials_path = "/etc/ocp/credentials.json"
max_iterations = 25
no_progress_limit = 5
request_timeout = "90s"
retry_backoff = "500ms"
log_max_size_mb = 20
log_max_files = 2
`)

	cfg := defaults()
	if err := overlayFromFile(&cfg, path); err != nil {
		t.Fatalf("overlay: %v", err)
	}

	if cfg.ServerURL != "https://agent.internal:4096" {
		t.Fatalf("server url = %q", cfg.ServerURL)
	}
	if cfg.CredentialsPath != "/etc/ocp/credentials.json" {
		t.Fatalf("credentials path = %q", cfg.CredentialsPath)
	}
	if cfg.MaxIterations != 25 || cfg.NoProgressLimit != 5 {
		t.Fatalf("iteration settings = %d/%d", cfg.MaxIterations, cfg.NoProgressLimit)
	}
	if cfg.RequestTimeout != 90*time.Second {
		t.Fatalf("request timeout = %s", cfg.RequestTimeout)
	}
	if cfg.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("retry backoff = %s", cfg.RetryBackoff)
	}
	if cfg.LogMaxSizeBytes != 20*1024*1024 || cfg.LogMaxFiles != 2 {
		t.Fatalf("log settings = %d/%d", cfg.LogMaxSizeBytes, cfg.LogMaxFiles)
	}
}

func TestOverlayFromFileIgnoresMissingFile(t *testing.T) {
	t.Parallel()

	cfg := defaults()
	if err := overlayFromFile(&cfg, filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatalf("missing file must be skipped: %v", err)
	}
	if cfg.MaxIterations != defaults().MaxIterations {
		t.Fatal("defaults mutated by missing file")
	}
}

func TestOverlayFromFileRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"zero max iterations", `max_iterations = 0`},
		{"negative no-progress", `no_progress_limit = -1`},
		{"bad duration", `request_timeout = "soon"`},
		{"negative backoff", `retry_backoff = "-2s"`},
		{"zero log size", `log_max_size_mb = 0`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeFile(t, t.TempDir(), "config.toml", tt.content)
			cfg := defaults()
			if err := overlayFromFile(&cfg, path); err == nil {
				t.Fatalf("expected error for %q", tt.content)
			}
		})
	}
}

func TestLaterOverlayWinsOverEarlier(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := writeFile(t, dir, "global.toml", `max_iterations = 7`)
	local := writeFile(t, dir, "local.toml", `max_iterations = 3`)

	cfg := defaults()
	for _, path := range []string{global, local} {
		if err := overlayFromFile(&cfg, path); err != nil {
			t.Fatalf("overlay %s: %v", path, err)
		}
	}
	if cfg.MaxIterations != 3 {
		t.Fatalf("max iterations = %d, want project-local 3", cfg.MaxIterations)
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Parallel()

	t.Run("valid file", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, t.TempDir(), "credentials.json", `{"username":"pilot","password":"secret"}`)
		creds, err := LoadCredentials(path)
		if err != nil {
			t.Fatalf("load credentials: %v", err)
		}
		if creds.Username != "pilot" || creds.Password != "secret" {
			t.Fatalf("unexpected credentials: %#v", creds)
		}
	})

	t.Run("empty path yields empty credentials", func(t *testing.T) {
		t.Parallel()

		creds, err := LoadCredentials("  ")
		if err != nil {
			t.Fatalf("empty path: %v", err)
		}
		if creds.Username != "" || creds.Password != "" {
			t.Fatalf("expected empty credentials, got %#v", creds)
		}
	})

	t.Run("missing username", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, t.TempDir(), "credentials.json", `{"password":"secret"}`)
		if _, err := LoadCredentials(path); err == nil {
			t.Fatal("expected error for missing username")
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, t.TempDir(), "credentials.json", `{"username":`)
		if _, err := LoadCredentials(path); err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})
}
