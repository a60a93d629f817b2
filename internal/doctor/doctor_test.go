package doctor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencode-pilot/ocp/internal/config"
)

func writeCredentials(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	return path
}

func resultByName(t *testing.T, report *Report, name string) CheckResult {
	t.Helper()
	for _, result := range report.Results {
		if result.Name == name {
			return result
		}
	}
	t.Fatalf("report has no %q check: %+v", name, report.Results)
	return CheckResult{}
}

func TestRunHealthy(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	cfg := &config.Config{
		ServerURL:       server.URL,
		CredentialsPath: writeCredentials(t, `{"username":"pilot","password":"secret"}`),
		MaxIterations:   10,
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report := d.Run(context.Background())
	if !report.Healthy() {
		t.Fatalf("report not healthy: %+v", report.Results)
	}
	for _, name := range []string{"configuration", "credentials", "server"} {
		if got := resultByName(t, report, name).Status; got != StatusOK {
			t.Errorf("%s status = %s, want %s", name, got, StatusOK)
		}
	}
	if gotAuth == "" {
		t.Error("server probe should carry basic auth when credentials exist")
	}
}

func TestRunWarnsWithoutCredentials(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	d, err := New(&config.Config{ServerURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report := d.Run(context.Background())
	if !report.Healthy() {
		t.Fatalf("warnings should not fail the report: %+v", report.Results)
	}
	if got := resultByName(t, report, "credentials").Status; got != StatusWarn {
		t.Errorf("credentials status = %s, want %s", got, StatusWarn)
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("connection refused")
		}
		rec := httptest.NewRecorder()
		rec.WriteString("[]")
		return rec.Result(), nil
	})

	d, err := newDoctor(&config.Config{ServerURL: "http://localhost:4096"}, doer)
	if err != nil {
		t.Fatalf("newDoctor: %v", err)
	}

	report := d.Run(context.Background())
	if got := resultByName(t, report, "server").Status; got != StatusOK {
		t.Errorf("server status = %s, want %s after retry", got, StatusOK)
	}
	if calls != 2 {
		t.Errorf("probe calls = %d, want 2", calls)
	}
}

func TestRunServerStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		want       string
		healthy    bool
	}{
		{name: "unauthorized fails", statusCode: http.StatusUnauthorized, want: StatusFail, healthy: false},
		{name: "server error warns", statusCode: http.StatusInternalServerError, want: StatusWarn, healthy: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.statusCode)
			}))
			defer server.Close()

			d, err := New(&config.Config{ServerURL: server.URL})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			report := d.Run(context.Background())
			if got := resultByName(t, report, "server").Status; got != tc.want {
				t.Errorf("server status = %s, want %s", got, tc.want)
			}
			if report.Healthy() != tc.healthy {
				t.Errorf("healthy = %v, want %v", report.Healthy(), tc.healthy)
			}
		})
	}
}

func TestRunUnreachableServerFails(t *testing.T) {
	t.Parallel()

	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	d, err := newDoctor(&config.Config{ServerURL: "http://localhost:1"}, doer)
	if err != nil {
		t.Fatalf("newDoctor: %v", err)
	}

	report := d.Run(context.Background())
	if got := resultByName(t, report, "server").Status; got != StatusFail {
		t.Errorf("server status = %s, want %s", got, StatusFail)
	}
}

func TestRunRejectsInvalidServerURL(t *testing.T) {
	t.Parallel()

	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("should not be called for config check")
	})
	d, err := newDoctor(&config.Config{ServerURL: "not a url"}, doer)
	if err != nil {
		t.Fatalf("newDoctor: %v", err)
	}

	report := d.Run(context.Background())
	if got := resultByName(t, report, "configuration").Status; got != StatusFail {
		t.Errorf("configuration status = %s, want %s", got, StatusFail)
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }
