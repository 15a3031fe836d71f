package fetcher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trafficwatch/internal/logger"
	"trafficwatch/internal/metrics"
	"trafficwatch/internal/models"
)

// Fetch errors
var (
	ErrMalformedResponse = errors.New("malformed stats response")
	ErrBadStatus         = errors.New("unexpected response status")
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = 500 * time.Millisecond
	defaultTimeout    = 20 * time.Second
	maxBodySize       = 1 << 20
	maxDetailLength   = 1024
)

// FetchError reports that no valid stats could be obtained from a server
type FetchError struct {
	Server   string
	Detail   string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to fetch data for server %s: %s", e.Server, e.Detail)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DetailText returns the failure detail without the server prefix
func (e *FetchError) DetailText() string { return e.Detail }

// outcome classifies one attempt
type outcome int

const (
	outcomeOK outcome = iota
	outcomeTransient
	outcomeTerminal
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeTransient:
		return "transient"
	default:
		return "terminal"
	}
}

// attemptResult is what a single GET produced
type attemptResult struct {
	outcome outcome
	stats   *models.ServerStats
	detail  string
	err     error
}

// Config holds fetcher configuration
type Config struct {
	// Attempts per fetch, first try included
	Attempts   int
	RetryDelay time.Duration
	// Connect and total timeout of one request
	Timeout            time.Duration
	Proxy              string
	InsecureSkipVerify bool
	// Client overrides the HTTP client built from the fields above
	Client *http.Client
}

// Fetcher retrieves server stats over HTTP with bounded retry. It keeps no
// per-server state and is safe for concurrent use.
type Fetcher struct {
	client     *http.Client
	attempts   int
	retryDelay time.Duration
}

// New creates a Fetcher
func New(cfg Config) (*Fetcher, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = newHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	}

	return &Fetcher{
		client:     client,
		attempts:   cfg.Attempts,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}

// Fetch retrieves stats for server. Transport errors and non-2xx statuses
// are retried; a malformed body is not. On failure the returned error is a
// *FetchError carrying the last attempt's detail.
func (f *Fetcher) Fetch(ctx context.Context, server models.ServerConfig) (*models.ServerStats, error) {
	log := logger.WithServer("fetcher", server.Name)
	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(server.Name).Observe(time.Since(start).Seconds())
	}()

	var last attemptResult
	attempt := 0
	for attempt < f.attempts {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt+1).
				Dur("delay", f.retryDelay).
				Msg("retrying stats fetch")

			select {
			case <-time.After(f.retryDelay):
			case <-ctx.Done():
				return nil, f.fail(server, attempt, last, ctx.Err())
			}
		}
		attempt++

		last = f.attempt(ctx, server)
		metrics.FetchAttemptsTotal.WithLabelValues(server.Name, last.outcome.String()).Inc()

		switch last.outcome {
		case outcomeOK:
			log.Debug().
				Int("attempt", attempt).
				Float64("remaining_percent", last.stats.RemainingTrafficPercent).
				Msg("stats fetched")
			return last.stats, nil
		case outcomeTerminal:
			return nil, f.fail(server, attempt, last, nil)
		}

		log.Warn().
			Err(last.err).
			Int("attempt", attempt).
			Msg("stats fetch attempt failed")
	}

	return nil, f.fail(server, attempt, last, nil)
}

func (f *Fetcher) fail(server models.ServerConfig, attempts int, last attemptResult, cause error) error {
	metrics.FetchFailuresTotal.WithLabelValues(server.Name).Inc()

	err := last.err
	detail := last.detail
	if cause != nil {
		err = cause
		if detail == "" {
			detail = cause.Error()
		}
	}

	log := logger.WithServer("fetcher", server.Name)
	log.Error().
		Err(err).
		Int("attempts", attempts).
		Msg("stats fetch failed")

	return &FetchError{
		Server:   server.Name,
		Detail:   detail,
		Attempts: attempts,
		Err:      err,
	}
}

// attempt performs a single GET and classifies the result
func (f *Fetcher) attempt(ctx context.Context, server models.ServerConfig) attemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		return attemptResult{outcome: outcomeTerminal, detail: err.Error(), err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return attemptResult{outcome: outcomeTransient, detail: err.Error(), err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return attemptResult{outcome: outcomeTransient, detail: err.Error(), err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = resp.Status
		}
		return attemptResult{
			outcome: outcomeTransient,
			detail:  truncate(detail),
			err:     fmt.Errorf("%w: %s", ErrBadStatus, resp.Status),
		}
	}

	var payload models.StatsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return malformed(err)
	}
	stats, err := payload.ToStats(server.Name)
	if err != nil {
		return malformed(err)
	}
	return attemptResult{outcome: outcomeOK, stats: stats}
}

func malformed(err error) attemptResult {
	wrapped := fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	return attemptResult{outcome: outcomeTerminal, detail: wrapped.Error(), err: wrapped}
}

func truncate(s string) string {
	if len(s) <= maxDetailLength {
		return s
	}
	return s[:maxDetailLength] + "..."
}
