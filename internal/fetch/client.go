// Package fetch is the retrying HTTP client used to pull provider payloads.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AttemptObserver is notified after every HTTP attempt.
type AttemptObserver func(ctx context.Context, host string, attempt int, ok bool)

// Client performs GET/POST requests with bounded retries. Exhausting every
// attempt is not an error: the call returns a nil value and a nil error.
type Client struct {
	cfg      ingest.FetchConfig
	keyParam string
	apiKey   string
	logger   *zap.SugaredLogger
	sleep    func(ctx context.Context, d time.Duration) error
	observe  AttemptObserver

	mu      sync.Mutex
	clients map[transportKey]*http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithAPIKey appends key as the param query parameter to every request.
func WithAPIKey(param, key string) Option {
	return func(c *Client) {
		c.keyParam = param
		c.apiKey = key
	}
}

// WithObserver registers an attempt observer.
func WithObserver(fn AttemptObserver) Option {
	return func(c *Client) { c.observe = fn }
}

// NewClient creates a client from cfg. Zero values fall back to the defaults.
func NewClient(cfg ingest.FetchConfig, opts ...Option) *Client {
	def := ingest.DefaultConfig().Fetch
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.WaitInterval < 0 {
		cfg.WaitInterval = 0
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	c := &Client{
		cfg:      cfg,
		keyParam: "api_token",
		logger:   zap.S().Named("fetch"),
		sleep:    sleepContext,
		clients:  make(map[transportKey]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective client settings.
func (c *Client) Config() ingest.FetchConfig {
	return c.cfg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Get fetches rawURL with params and decodes the body.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, opts ...CallOption) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Params: params, Options: opts})
}

// Post sends body (JSON-encoded unless it is bytes, a string or a reader)
// and decodes the response.
func (c *Client) Post(ctx context.Context, rawURL string, body any, opts ...CallOption) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Body: body, Options: opts})
}

// Request is one fetch to run through Do or FetchAll.
type Request struct {
	Method  string
	URL     string
	Params  url.Values
	Body    any
	Options []CallOption
}

// Response pairs a request with its decoded value or error.
type Response struct {
	Request Request
	Value   any
	Err     error
}

// Do runs req with retries.
func (c *Client) Do(ctx context.Context, req Request) (any, error) {
	co := c.callOptions(req.Options)
	target, err := c.buildURL(req.URL, req.Params)
	if err != nil {
		return nil, ingest.NewIngestError(ingest.ErrorTypeFetch, ingest.ErrCodeFetchFailed, "invalid url").WithCause(err)
	}
	payload, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, ingest.NewIngestError(ingest.ErrorTypeFetch, ingest.ErrCodeFetchFailed, "encode request body").WithCause(err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hc := c.httpClient(co)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		value, err := c.once(ctx, hc, method, target, payload, contentType, co)
		c.notify(ctx, target, attempt, err == nil)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.Warnw("fetch failed, retrying", "url", redact(target, c.keyParam),
			"wait", c.cfg.WaitInterval, "attempt", attempt, "max", c.cfg.MaxAttempts, "err", err)
		if attempt < c.cfg.MaxAttempts {
			if err := c.sleep(ctx, c.cfg.WaitInterval); err != nil {
				return nil, err
			}
		}
	}
	c.logger.Debugw("fetch attempts exhausted", "url", redact(target, c.keyParam))
	return nil, nil
}

// errBodyStalled marks an attempt whose response body stopped arriving.
var errBodyStalled = errors.New("response body stalled")

func (c *Client) once(ctx context.Context, hc *http.Client, method string, target *url.URL, payload []byte, contentType string, co callOptions) (any, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	rd := newIdleReader(resp.Body, co.readTimeout, cancel)
	defer rd.stop()
	data, err := io.ReadAll(rd)
	if err != nil {
		if rd.stalled() {
			return nil, fmt.Errorf("%w: no data for %s", errBodyStalled, co.readTimeout)
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet(data))
	}
	return co.format.Decode(data)
}

// idleReader aborts a body read when no bytes arrive for idle. Each
// successful read rearms the deadline.
type idleReader struct {
	r       io.Reader
	idle    time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleReader(r io.Reader, idle time.Duration, abort context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, idle: idle}
	ir.timer = time.AfterFunc(idle, func() {
		ir.expired.Store(true)
		abort()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && !ir.expired.Load() {
		ir.timer.Reset(ir.idle)
	}
	return n, err
}

func (ir *idleReader) stalled() bool { return ir.expired.Load() }

func (ir *idleReader) stop() { ir.timer.Stop() }

func (c *Client) notify(ctx context.Context, target *url.URL, attempt int, ok bool) {
	if c.observe != nil {
		c.observe(ctx, target.Host, attempt, ok)
	}
}

func (c *Client) buildURL(raw string, params url.Values) (*url.URL, error) {
	if !strings.Contains(raw, "://") && c.cfg.BaseURL != "" {
		raw = strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q is not absolute", raw)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if c.apiKey != "" && c.keyParam != "" && q.Get(c.keyParam) == "" {
		q.Set(c.keyParam, c.apiKey)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "application/octet-stream", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		return data, "application/octet-stream", err
	}
	data, err := json.Marshal(body)
	return data, "application/json", err
}

// FetchAll runs every request concurrently, at most Concurrency at a time,
// and returns the responses in request order. Retry waits block only the
// request's own goroutine.
func (c *Client) FetchAll(ctx context.Context, reqs []Request) []Response {
	out := make([]Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			v, err := c.Do(gctx, req)
			out[i] = Response{Request: req, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type transportKey struct {
	proxy   string
	connect time.Duration
	read    time.Duration
}

func (c *Client) httpClient(co callOptions) *http.Client {
	key := transportKey{proxy: co.proxy, connect: co.connectTimeout, read: co.readTimeout}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc
	}

	dialer := &net.Dialer{Timeout: co.connectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   co.connectTimeout + co.readTimeout,
		ResponseHeaderTimeout: co.readTimeout,
		MaxIdleConnsPerHost:   c.cfg.Concurrency,
		IdleConnTimeout:       90 * time.Second,
	}
	if co.proxy != "" {
		if pu, err := url.Parse(co.proxy); err == nil {
			transport.Proxy = http.ProxyURL(pu)
		} else {
			c.logger.Warnw("ignoring invalid proxy", "proxy", co.proxy, "err", err)
		}
	}
	hc := &http.Client{Transport: transport}
	c.clients[key] = hc
	return hc
}

func redact(u *url.URL, param string) string {
	if param == "" || u.Query().Get(param) == "" {
		return u.String()
	}
	cp := *u
	q := cp.Query()
	q.Set(param, "***")
	cp.RawQuery = q.Encode()
	return cp.String()
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
