// Package fetch is the rate-limited HTTP client every outbound collaborator
// call goes through. It shapes request timing per target and knows nothing
// about lead semantics.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadpipe/internal/resilience"
)

// ErrTargetBlacklisted is returned when the circuit breaker for a target is
// open. Callers fail fast instead of queueing behind a dead host.
var ErrTargetBlacklisted = eris.New("fetch: target blacklisted")

// TargetConfig is the per-target timing policy, keyed by hostname.
type TargetConfig struct {
	// MinInterval is the minimum spacing between two granted calls.
	MinInterval time.Duration
	// JitterRange adds up to this much random extra delay after each grant.
	JitterRange time.Duration
	// MaxRetries is the total attempts per call, including the first.
	MaxRetries int
	// BackoffBase and BackoffMultiplier shape the retry delay curve.
	BackoffBase       time.Duration
	BackoffMultiplier float64
}

func (t TargetConfig) withDefaults() TargetConfig {
	if t.MinInterval <= 0 {
		t.MinInterval = time.Second
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = 3
	}
	if t.BackoffBase <= 0 {
		t.BackoffBase = 500 * time.Millisecond
	}
	if t.BackoffMultiplier <= 0 {
		t.BackoffMultiplier = 2.0
	}
	return t
}

// Options configures the client.
type Options struct {
	UserAgent string
	Timeout   time.Duration

	// Default applies to every target without an explicit entry in Targets.
	Default TargetConfig
	Targets map[string]TargetConfig

	// Breakers is the shared per-target circuit breaker registry. Nil gets a
	// private registry with default settings.
	Breakers *resilience.Breakers
}

// Client wraps net/http with per-target rate limiting, retry, and circuit
// breaking. The per-target last-call state lives inside the client, so
// callers share timing discipline by sharing the client.
type Client struct {
	client   *http.Client
	opts     Options
	breakers *resilience.Breakers

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "leadpipe/1.0"
	}
	opts.Default = opts.Default.withDefaults()
	breakers := opts.Breakers
	if breakers == nil {
		breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig())
	}
	return &Client{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		breakers: breakers,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Breakers exposes the breaker registry for monitoring.
func (c *Client) Breakers() *resilience.Breakers {
	return c.breakers
}

func (c *Client) configFor(target string) TargetConfig {
	if cfg, ok := c.opts.Targets[target]; ok {
		return cfg.withDefaults()
	}
	return c.opts.Default
}

func (c *Client) limiterFor(target string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[target]; ok {
		return lim
	}
	cfg := c.configFor(target)
	lim := rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	c.limiters[target] = lim
	return lim
}

// Acquire blocks until the target's rate-limit window opens, then sleeps a
// random jitter on top. It returns early only on context cancellation.
func (c *Client) Acquire(ctx context.Context, target string) error {
	if err := c.limiterFor(target).Wait(ctx); err != nil {
		return eris.Wrapf(err, "fetch: acquire %s", target)
	}
	cfg := c.configFor(target)
	if cfg.JitterRange <= 0 {
		return nil
	}
	t := time.NewTimer(rand.N(cfg.JitterRange))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "fetch: acquire %s", target)
	case <-t.C:
		return nil
	}
}

// Do executes the request under the target's timing policy: breaker check,
// rate-limit acquire, then retries on transient failures. A non-2xx status
// that is not retryable is returned as an error with the status attached.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, int, error) {
	probe, err := build(ctx)
	if err != nil {
		return nil, 0, eris.Wrap(err, "fetch: build request")
	}
	target := probe.URL.Host
	cfg := c.configFor(target)
	breaker := c.breakers.Get(target)

	policy := resilience.Policy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.BackoffBase,
		Multiplier:  cfg.BackoffMultiplier,
		OnRetry:     resilience.LogRetries(target, probe.Method+" "+probe.URL.Path),
	}

	resp, err := resilience.RunVal(ctx, policy, func(ctx context.Context) (*http.Response, error) {
		if err := breaker.Allow(); err != nil {
			return nil, eris.Wrapf(ErrTargetBlacklisted, "target %s", target)
		}
		if err := c.Acquire(ctx, target); err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			breaker.Record(err)
			return nil, resilience.Transient(err, 0)
		}
		if resilience.RetryableStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			err := resilience.Transient(eris.Errorf("http %d from %s", resp.StatusCode, target), resp.StatusCode)
			breaker.Record(err)
			return nil, err
		}
		breaker.Record(nil)
		return resp, nil
	})
	if err != nil {
		if eris.Is(err, ErrTargetBlacklisted) {
			zap.L().Warn("target blacklisted, failing fast", zap.String("target", target))
		}
		return nil, 0, err
	}
	return resp, resp.StatusCode, nil
}

// Get fetches the URL and returns the body. Non-2xx statuses are errors.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, status, err := c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if status < 200 || status >= 300 {
		return nil, eris.Errorf("fetch: unexpected status %d from %s", status, rawURL)
	}
	return io.ReadAll(resp.Body)
}

// GetJSON fetches the URL and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	return eris.Wrapf(json.Unmarshal(body, out), "fetch: decode %s", rawURL)
}

// PostJSON sends payload as JSON and decodes the response into out when out
// is non-nil.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "fetch: encode payload")
	}
	resp, status, err := c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if status < 200 || status >= 300 {
		return eris.Errorf("fetch: unexpected status %d from %s", status, rawURL)
	}
	if out == nil {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "fetch: read response")
	}
	return eris.Wrapf(json.Unmarshal(body, out), "fetch: decode %s", rawURL)
}

// Reachable reports whether the URL answers with a non-error status. Used by
// identity verification; 404 and 410 are reported as unreachable rather than
// errors.
func (c *Client) Reachable(ctx context.Context, rawURL string) (bool, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return false, nil
	}
	resp, status, err := c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	})
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	return status < 400, nil
}
