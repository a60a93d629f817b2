// Package doctor verifies the local setup a task run depends on: usable
// configuration, readable credentials, and a reachable server.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/opencode-pilot/ocp/internal/config"
	"github.com/opencode-pilot/ocp/internal/opencode"
)

// Check status values, ordered from healthy to broken.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

const (
	probeMaxTries        = 3
	probeInitialInterval = 500 * time.Millisecond
)

// CheckResult is the outcome of one environment check.
type CheckResult struct {
	Name   string
	Status string
	Detail string
}

// Report aggregates all check results for one doctor run.
type Report struct {
	Results []CheckResult
}

// Healthy reports whether no check failed. Warnings do not count as
// failures.
func (r *Report) Healthy() bool {
	if r == nil {
		return false
	}
	for _, result := range r.Results {
		if result.Status == StatusFail {
			return false
		}
	}
	return true
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Doctor runs environment checks against one configuration.
type Doctor struct {
	cfg  *config.Config
	doer httpDoer
}

// New builds a doctor for the given configuration.
func New(cfg *config.Config) (*Doctor, error) {
	return newDoctor(cfg, nil)
}

func newDoctor(cfg *config.Config, doer httpDoer) (*Doctor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if doer == nil {
		doer = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Doctor{cfg: cfg, doer: doer}, nil
}

// Run executes every check and returns the aggregate report. Checks never
// abort each other; a broken credentials file still lets the server probe
// run without authentication.
func (d *Doctor) Run(ctx context.Context) *Report {
	report := &Report{}

	report.Results = append(report.Results, d.checkConfiguration())

	credentials, credResult := d.checkCredentials()
	report.Results = append(report.Results, credResult)

	report.Results = append(report.Results, d.checkServer(ctx, credentials))
	return report
}

func (d *Doctor) checkConfiguration() CheckResult {
	if _, err := url.ParseRequestURI(d.cfg.ServerURL); err != nil {
		return CheckResult{
			Name:   "configuration",
			Status: StatusFail,
			Detail: fmt.Sprintf("invalid server url %q: %v", d.cfg.ServerURL, err),
		}
	}
	return CheckResult{
		Name:   "configuration",
		Status: StatusOK,
		Detail: fmt.Sprintf("server %s, max iterations %d", d.cfg.ServerURL, d.cfg.MaxIterations),
	}
}

func (d *Doctor) checkCredentials() (opencode.Credentials, CheckResult) {
	if strings.TrimSpace(d.cfg.CredentialsPath) == "" {
		return opencode.Credentials{}, CheckResult{
			Name:   "credentials",
			Status: StatusWarn,
			Detail: "no credentials file configured; requests are sent unauthenticated",
		}
	}

	credentials, err := config.LoadCredentials(d.cfg.CredentialsPath)
	if err != nil {
		return opencode.Credentials{}, CheckResult{
			Name:   "credentials",
			Status: StatusFail,
			Detail: err.Error(),
		}
	}
	return credentials, CheckResult{
		Name:   "credentials",
		Status: StatusOK,
		Detail: fmt.Sprintf("loaded credentials for %s", credentials.Username),
	}
}

// checkServer probes the session listing endpoint with a short exponential
// backoff so a server that is still starting up does not fail the check.
func (d *Doctor) checkServer(ctx context.Context, credentials opencode.Credentials) CheckResult {
	probe := func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.probeURL(), nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		if credentials.Username != "" {
			req.SetBasicAuth(credentials.Username, credentials.Password)
		}

		resp, err := d.doer.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return resp.StatusCode, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = probeInitialInterval

	statusCode, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(probeMaxTries),
	)
	if err != nil {
		return CheckResult{
			Name:   "server",
			Status: StatusFail,
			Detail: fmt.Sprintf("unreachable after %d attempts: %v", probeMaxTries, err),
		}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return CheckResult{
			Name:   "server",
			Status: StatusFail,
			Detail: fmt.Sprintf("authentication rejected (HTTP %d)", statusCode),
		}
	case statusCode >= 200 && statusCode < 300:
		return CheckResult{
			Name:   "server",
			Status: StatusOK,
			Detail: fmt.Sprintf("reachable at %s", d.cfg.ServerURL),
		}
	default:
		return CheckResult{
			Name:   "server",
			Status: StatusWarn,
			Detail: fmt.Sprintf("reachable but returned HTTP %d", statusCode),
		}
	}
}

func (d *Doctor) probeURL() string {
	return strings.TrimRight(d.cfg.ServerURL, "/") + "/session"
}
