package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"contenthub.org/internal/ids"
	"contenthub.org/internal/obs"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultUploadTimeout = 2 * time.Minute
	maxResponseBytes     = 4 << 20
)

// Mode decides how a client decorates requests.
type Mode int

const (
	// ModeAuthenticated attaches the stored bearer when one exists and routes
	// 401 responses through the Renewer.
	ModeAuthenticated Mode = iota
	// ModeAnonymous never attaches a bearer. Used for login, register,
	// refresh and password reset so a dead token cannot break them.
	ModeAnonymous
	// ModePublic never attaches a bearer and expects the wrapped
	// {data, success, message} envelope by default.
	ModePublic
)

func (m Mode) String() string {
	switch m {
	case ModeAuthenticated:
		return "authenticated"
	case ModeAnonymous:
		return "anonymous"
	case ModePublic:
		return "public"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// TokenSource yields the current access token, or "" when logged out.
type TokenSource interface {
	AccessToken() string
}

// Renewer exchanges the refresh token for a new pair after a 401. It receives
// the access token the failed request carried and returns the one to replay
// with.
type Renewer interface {
	Renew(ctx context.Context, staleAccessToken string) (string, error)
}

// Config is shared by all three client flavours.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	UploadTimeout time.Duration
	Transport     http.RoundTripper
}

// Client talks JSON to the content API.
type Client struct {
	mode    Mode
	baseURL string
	http    *http.Client
	upload  *http.Client
	tokens  TokenSource
	renewer Renewer
	log     *zap.Logger
}

// New builds a client of the given mode. Authenticated clients need a token
// source.
func New(cfg Config, mode Mode, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base url %q", base)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}

	transport := obs.InstrumentTransport(cfg.Transport)
	c := &Client{
		mode:    mode,
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		upload:  &http.Client{Timeout: cfg.UploadTimeout, Transport: transport},
	}
	for _, opt := range opts {
		opt(c)
	}
	if mode == ModeAuthenticated && c.tokens == nil {
		return nil, errors.New("apiclient: authenticated client requires a token source")
	}
	return c, nil
}

// Mode returns the client's decoration mode.
func (c *Client) Mode() Mode { return c.mode }

func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out, opts)
}

func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out, opts)
}

func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.doJSON(ctx, http.MethodPut, path, body, out, opts)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.doJSON(ctx, http.MethodPatch, path, body, out, opts)
}

func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out, opts)
}

// bodyFunc produces a fresh request body for every attempt so a renewed
// request can be replayed.
type bodyFunc func() (io.Reader, string, error)

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, opts []RequestOption) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encode %s %s: %w", method, path, err)
		}
		payload = raw
	}
	newBody := func() (io.Reader, string, error) {
		if payload == nil {
			return nil, "", nil
		}
		return bytes.NewReader(payload), "application/json", nil
	}
	return c.execute(ctx, c.http, method, path, newBody, out, opts)
}

// execute sends the request once and, for an authenticated request that got
// a 401, renews and replays it exactly once. A request sent without a bearer
// goes through the renewer too, so a logged-out caller still ends on the
// forced-logout path.
func (c *Client) execute(ctx context.Context, hc *http.Client, method, path string, newBody bodyFunc, out any, opts []RequestOption) error {
	ro := c.requestOptions(opts)
	requestID := ids.New()

	token := c.bearer()
	status, data, err := c.send(ctx, hc, method, path, newBody, ro, requestID, token)
	if err != nil && c.shouldRenew(err) {
		fresh, rerr := c.renewer.Renew(ctx, token)
		if rerr != nil {
			return &SessionExpiredError{Cause: rerr}
		}
		status, data, err = c.send(ctx, hc, method, path, newBody, ro, requestID, fresh)
	}
	if err != nil {
		return err
	}
	return decodeBody(status, data, out, ro.enveloped, requestID)
}

func (c *Client) shouldRenew(err error) bool {
	return c.mode == ModeAuthenticated && c.renewer != nil && IsUnauthorized(err)
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, newBody bodyFunc, ro requestOptions, requestID, token string) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	body, contentType, err := newBody()
	if err != nil {
		return 0, nil, fmt.Errorf("apiclient: prepare body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, ro.query), body)
	if err != nil {
		return 0, nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	for k, vs := range ro.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Del("Authorization")
	if c.mode == ModeAuthenticated && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger().Debug("api_request_failed",
			zap.String("mode", c.mode.String()),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return 0, nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &NetworkError{Op: "read response", Err: err}
	}
	c.logger().Debug("api_request",
		zap.String("mode", c.mode.String()),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.String("request_id", requestID),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, data, decodeError(resp.StatusCode, data, requestID)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) requestOptions(opts []RequestOption) requestOptions {
	ro := requestOptions{
		query:     url.Values{},
		header:    http.Header{},
		enveloped: c.mode == ModePublic,
	}
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

func (c *Client) bearer() string {
	if c.mode != ModeAuthenticated || c.tokens == nil {
		return ""
	}
	return strings.TrimSpace(c.tokens.AccessToken())
}

func (c *Client) url(path string, query url.Values) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := c.baseURL + path
	if len(query) == 0 {
		return full
	}
	sep := "?"
	if strings.Contains(full, "?") {
		sep = "&"
	}
	return full + sep + query.Encode()
}

func (c *Client) logger() *zap.Logger {
	if c.log != nil {
		return c.log
	}
	return obs.Logger()
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
}

type errorEnvelope struct {
	Message string `json:"message"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

func decodeBody(status int, data []byte, out any, enveloped bool, requestID string) error {
	if enveloped {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("apiclient: decode envelope: %w", err)
		}
		if !env.Success {
			msg := strings.TrimSpace(env.Message)
			if msg == "" {
				msg = "request was not successful"
			}
			return &ServerError{Status: status, Message: msg, RequestID: requestID}
		}
		data = env.Data
	}
	trimmed := bytes.TrimSpace(data)
	if out == nil || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte, requestID string) error {
	var env errorEnvelope
	msg := ""
	if err := json.Unmarshal(data, &env); err == nil {
		msg = strings.TrimSpace(env.Message)
	} else if text := strings.TrimSpace(string(data)); len(text) <= 200 {
		msg = text
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	base := ServerError{Status: status, Message: msg, RequestID: requestID}
	if len(env.Errors) == 0 {
		return &base
	}
	fields := make(map[string]string, len(env.Errors))
	for _, fe := range env.Errors {
		if fe.Field == "" {
			continue
		}
		fields[fe.Field] = fe.Message
	}
	return &ValidationError{ServerError: base, Fields: fields}
}
