// Package wenzheng is the client for the provincial complaint board API.
// All endpoints are JSON POSTs answering with a {code, msg, data} envelope;
// code 0 is success. Requests share one rate limiter so concurrent callers
// never exceed the configured ceiling.
package wenzheng

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/wzwatch/wenzheng-cli/internal/resilience"
)

const (
	defaultBaseURL   = "https://wz-api.chuanbaoguancha.cn/api/v1"
	defaultUserAgent = "wenzheng-cli/1.0"
	defaultRPS       = 2.0
)

// Client calls the complaint board API.
type Client interface {
	ProvinceTree(ctx context.Context) ([]RawNode, error)
	CityTree(ctx context.Context, cityID string) ([]RawNode, error)
	ThreadPage(ctx context.Context, orgID string, page, size int) (*ThreadPage, error)
}

// APIError is a non-retryable upstream failure: a 4xx outside the retry
// classes, or an envelope carrying a non-zero code.
type APIError struct {
	StatusCode int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("wenzheng: api code %d: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("wenzheng: http %d: %s", e.StatusCode, e.Msg)
}

// envelope is the wire shape every endpoint answers with.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithHeaders sets the fixed header set applied to every request
// (Origin, Referer and friends, as the board expects them).
func WithHeaders(headers map[string]string) Option {
	return func(c *httpClient) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithUserAgent overrides the default User-Agent.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.headers["User-Agent"] = ua
	}
}

// WithRateLimit sets the shared requests-per-second ceiling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithBreaker guards every call with cb. While cb is open, calls fail fast
// with resilience.ErrCircuitOpen instead of queueing behind the limiter.
func WithBreaker(cb *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	baseURL string
	headers map[string]string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// NewClient creates a board API client. The zero configuration talks to the
// public endpoint at 2 req/s with three attempts per call.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json, text/plain, */*",
			"User-Agent":   defaultUserAgent,
		},
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRPS), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// post sends one JSON POST through the breaker, limiter and retry policy and
// returns the envelope's data payload. The breaker sits outside the retry
// loop: one call that exhausts its attempts counts as one failure.
func (c *httpClient) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrapf(err, "wenzheng: marshal request for %s", path)
	}

	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, eris.Wrapf(err, "wenzheng: POST %s", path)
		}
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("wenzheng", path)
	}

	data, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (json.RawMessage, error) {
		return c.doOnce(ctx, path, body)
	})
	if c.breaker != nil {
		c.breaker.Record(err)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "wenzheng: POST %s", path)
	}
	return data, nil
}

// doOnce performs a single attempt. Connection errors and retryable HTTP
// statuses come back as TransientError so the retry policy picks them up;
// everything else is terminal.
func (c *httpClient) doOnce(ctx context.Context, path string, body []byte) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(err, resp.StatusCode)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, path), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Msg: truncate(string(respBody), 200)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, eris.Wrapf(err, "decode envelope from %s", path)
	}
	if env.Code != 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}

	return env.Data, nil
}

// truncate cuts s to at most n bytes without splitting a rune; error bodies
// are mostly CJK text.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
