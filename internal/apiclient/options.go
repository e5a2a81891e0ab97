package apiclient

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

// WithTokens sets where the authenticated client reads its bearer from.
func WithTokens(tokens TokenSource) Option {
	return func(c *Client) { c.tokens = tokens }
}

// WithRenewer installs the 401 renewal hook for the authenticated client.
func WithRenewer(r Renewer) Option {
	return func(c *Client) { c.renewer = r }
}

// WithLogger overrides the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// RequestOption adjusts a single call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	query     url.Values
	header    http.Header
	enveloped bool
}

// WithQuery appends query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) {
		for k, vs := range q {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// Enveloped tells the client the response is wrapped as
// {data, success, message}. Call sites decide; the shape is never sniffed.
func Enveloped() RequestOption {
	return func(o *requestOptions) { o.enveloped = true }
}

// Bare overrides the public client's default envelope.
func Bare() RequestOption {
	return func(o *requestOptions) { o.enveloped = false }
}
