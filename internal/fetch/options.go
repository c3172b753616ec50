package fetch

import "time"

type callOptions struct {
	proxy          string
	connectTimeout time.Duration
	readTimeout    time.Duration
	format         Format
}

// CallOption overrides a client setting for one request.
type CallOption func(*callOptions)

// WithProxy routes the request through proxy.
func WithProxy(proxy string) CallOption {
	return func(o *callOptions) { o.proxy = proxy }
}

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithReadTimeout bounds the wait for response headers and any gap while
// reading the body.
func WithReadTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

// WithFormat selects the response decoder. JSON is the default.
func WithFormat(f Format) CallOption {
	return func(o *callOptions) {
		if f != nil {
			o.format = f
		}
	}
}

func (c *Client) callOptions(opts []CallOption) callOptions {
	co := callOptions{
		proxy:          c.cfg.Proxy,
		connectTimeout: c.cfg.ConnectTimeout,
		readTimeout:    c.cfg.ReadTimeout,
		format:         JSONFormat{},
	}
	for _, opt := range opts {
		opt(&co)
	}
	return co
}
