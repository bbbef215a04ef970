// Package platform is the client for the third-party social platform API.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL for the platform API.
	DefaultBaseURL = "https://api.vk.com"

	// DefaultVersion is the API version sent with every call.
	DefaultVersion = "5.199"

	// DefaultTimeout bounds one HTTP round-trip. Timeouts are not retried.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxAttempts is the total attempt budget for a throttled call.
	DefaultMaxAttempts = 3

	// DefaultRateLimit is the per-token request rate (requests per second).
	DefaultRateLimit = 3
)

// Client is a platform API client bound to one access token.
type Client struct {
	baseURL     string
	version     string
	token       string
	httpClient  *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithVersion sets the API version parameter.
func WithVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = version
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		burst := max(int(requestsPerSecond), 1)
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithMaxAttempts sets the attempt budget for throttled calls.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff replaces the delay schedule between throttled attempts.
func WithBackoff(fn func(attempt int) time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = fn
	}
}

// DefaultBackoff waits 1.5s + attempt*2s after the given failed attempt.
func DefaultBackoff(attempt int) time.Duration {
	return 1500*time.Millisecond + time.Duration(attempt)*2*time.Second
}

// NewClient creates a new platform API client.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		version: DefaultVersion,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewHTTPClient builds an HTTP client with the fixed timeout and an optional proxy.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// Call performs one API method call.
func (c *Client) Call(ctx context.Context, method string, params domain.Params) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.withRetry(ctx, method, func() error {
		env, err := c.do(ctx, method, encodeParams(params))
		if err != nil {
			return err
		}
		if env.Error != nil {
			return env.Error.apiError(method)
		}
		out = env.Response
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withRetry repeats fn while it fails with a throttling error, up to maxAttempts in total.
func (c *Client) withRetry(ctx context.Context, method string, fn func() error) error {
	var last *domain.APIError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *domain.APIError
		if !errors.As(err, &apiErr) || !apiErr.Kind.Retryable() {
			return err
		}
		last = apiErr
		if attempt == c.maxAttempts {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("platform call throttled, retrying",
			"method", method,
			"attempt", attempt,
			"code", apiErr.Code,
			"delay", delay,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &domain.APIError{
		Kind:    domain.APIErrorFloodControl,
		Code:    last.Code,
		Method:  method,
		Message: fmt.Sprintf("gave up after %d attempts: %s", c.maxAttempts, last.Message),
	}
}

// do executes one HTTP round-trip and decodes the envelope.
func (c *Client) do(ctx context.Context, method string, form url.Values) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	form.Set("access_token", c.token)
	form.Set("v", c.version)

	reqURL := fmt.Sprintf("%s/method/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("platform request", "method", method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return &env, nil
}

type envelope struct {
	Response      json.RawMessage `json:"response"`
	Error         *wireError      `json:"error"`
	ExecuteErrors []wireError     `json:"execute_errors"`
}

type wireError struct {
	Code       int    `json:"error_code"`
	Message    string `json:"error_msg"`
	Method     string `json:"method"`
	CaptchaSID string `json:"captcha_sid"`
	CaptchaImg string `json:"captcha_img"`
}

// matches reports whether the error can belong to a call of method. Errors
// without a method match any call.
func (w wireError) matches(method string) bool {
	return w.Method == "" || strings.EqualFold(w.Method, method)
}

func (w wireError) apiError(method string) *domain.APIError {
	if w.Method != "" {
		method = w.Method
	}
	e := domain.NewAPIError(method, w.Code, w.Message)
	e.CaptchaSID = w.CaptchaSID
	e.CaptchaImg = w.CaptchaImg
	return e
}

// encodeParams flattens params into form values the way the platform expects:
// lists comma-joined, booleans as 1/0, nested objects as JSON.
func encodeParams(params domain.Params) url.Values {
	form := url.Values{}
	for k, v := range params {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			form.Set(k, val)
		case bool:
			if val {
				form.Set(k, "1")
			} else {
				form.Set(k, "0")
			}
		case int:
			form.Set(k, strconv.Itoa(val))
		case int64:
			form.Set(k, strconv.FormatInt(val, 10))
		case float64:
			form.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
		case []string:
			form.Set(k, strings.Join(val, ","))
		case []int:
			parts := make([]string, len(val))
			for i, n := range val {
				parts[i] = strconv.Itoa(n)
			}
			form.Set(k, strings.Join(parts, ","))
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				form.Set(k, fmt.Sprint(val))
				continue
			}
			form.Set(k, string(raw))
		}
	}
	return form
}
