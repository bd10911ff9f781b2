package webull

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultRetryAfter = time.Second

// TokenProvider hands out the current bearer token. *AuthManager satisfies it.
type TokenProvider interface {
	GetToken(ctx context.Context) (AccessToken, error)
}

// Envelope is the wrapper the API puts around every payload.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Request describes one logical API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Cacheable marks a read-style POST whose response may be served from cache.
	// GET responses are always cacheable.
	Cacheable bool
}

// Dispatcher executes API calls: cache lookup, rate limiter admission, bearer
// token, send, status and envelope classification, cache population.
// It never retries; a 429 is slept off once and then reported.
type Dispatcher struct {
	baseURL           string
	httpClient        HTTPDoer
	auth              TokenProvider
	limiter           *RateLimiter
	getCache          *ResponseCache[json.RawMessage]
	postCache         *ResponseCache[json.RawMessage]
	invalidationDepth int
	timeout           time.Duration
	signer            *requestSigner
	metrics           *Metrics
	logger            *slog.Logger
	sleep             func(ctx context.Context, d time.Duration)
}

// DispatcherOptions configures NewDispatcher.
type DispatcherOptions struct {
	BaseURL string
	Timeout time.Duration
	Cache   CacheConfig
	Auth    AuthConfig
	Metrics *Metrics
	Logger  *slog.Logger
}

// NewDispatcher wires a dispatcher. The limiter is shared by every endpoint of
// one client so accounting is global to that client.
func NewDispatcher(httpClient HTTPDoer, auth TokenProvider, limiter *RateLimiter, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		baseURL:           strings.TrimRight(opts.BaseURL, "/"),
		httpClient:        httpClient,
		auth:              auth,
		limiter:           limiter,
		invalidationDepth: opts.Cache.InvalidationDepth,
		timeout:           opts.Timeout,
		signer:            newRequestSigner(opts.Auth.APIKey, opts.Auth.APISecret),
		metrics:           opts.Metrics,
		logger:            loggerOrDefault(opts.Logger),
		sleep:             sleepContext,
	}
	if opts.Cache.Enabled {
		d.getCache = NewResponseCache[json.RawMessage](opts.Cache.TTL, opts.Cache.MaxEntries)
		d.postCache = NewResponseCache[json.RawMessage](opts.Cache.TTL, opts.Cache.MaxEntries)
	}
	if d.invalidationDepth <= 0 {
		d.invalidationDepth = 2
	}
	return d
}

// ClearCache drops every cached response.
func (d *Dispatcher) ClearCache() {
	if d.getCache != nil {
		d.getCache.Clear()
		d.postCache.Clear()
	}
}

// Limiter returns the shared rate limiter, for callers implementing their own
// retry loop with HandleRateLimitError.
func (d *Dispatcher) Limiter() *RateLimiter {
	return d.limiter
}

// Execute runs req and returns the raw envelope payload.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, &SerializationError{Err: err}
		}
	}

	key := NewCacheKey(req.Method, req.Path, req.Query, body)
	cache, cacheName := d.cacheFor(req)
	if cache != nil {
		if data, ok := cache.Get(key); ok {
			d.metrics.CacheHit(cacheName)
			d.logger.Debug("Cache hit",
				"function", "Execute",
				"method", req.Method,
				"path", req.Path)
			return data, nil
		}
		d.metrics.CacheMiss(cacheName)
	}

	if err := d.limiter.Wait(ctx, req.Path); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	token, err := d.auth.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	status, header, respBody, err := d.send(ctx, req, body, token)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusTooManyRequests:
		delay := retryAfter(header)
		d.logger.Warn("Rate limited by server",
			"function", "Execute",
			"path", req.Path,
			"retry_after", delay)
		d.sleep(ctx, delay)
		return nil, ErrRateLimitExceeded
	case status == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case status < 200 || status >= 300:
		return nil, &APIError{Code: strconv.Itoa(status), Message: string(respBody)}
	}

	data, err := unwrapEnvelope(respBody)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		cache.Set(key, data)
	}
	switch req.Method {
	case http.MethodPut:
		d.invalidate(req.Path, d.getCache)
	case http.MethodDelete:
		d.invalidate(req.Path, d.getCache, d.postCache)
	}

	return data, nil
}

func (d *Dispatcher) cacheFor(req Request) (*ResponseCache[json.RawMessage], string) {
	if d.getCache == nil {
		return nil, ""
	}
	switch {
	case req.Method == http.MethodGet:
		return d.getCache, "get"
	case req.Method == http.MethodPost && req.Cacheable:
		return d.postCache, "post"
	}
	return nil, ""
}

func (d *Dispatcher) send(ctx context.Context, req Request, body []byte, token AccessToken) (int, http.Header, []byte, error) {
	target := d.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	token.OAuth2().SetAuthHeader(httpReq)
	d.signer.sign(httpReq, body)

	start := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, nil, &NetworkError{Op: req.Method + " " + req.Path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, &NetworkError{Op: "read " + req.Path, Err: err}
	}
	d.metrics.ObserveRequest(req.Method, resp.StatusCode, time.Since(start))

	d.logger.Debug("Request completed",
		"function", "Execute",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode)
	return resp.StatusCode, resp.Header, respBody, nil
}

// invalidate drops entries that share the resource space of path.
func (d *Dispatcher) invalidate(path string, caches ...*ResponseCache[json.RawMessage]) {
	space := resourceSpace(path, d.invalidationDepth)
	for _, cache := range caches {
		if cache == nil {
			continue
		}
		removed := cache.RemoveFunc(func(key CacheKey) bool {
			return key.Path == space || strings.HasPrefix(key.Path, space+"/")
		})
		if removed > 0 {
			d.logger.Debug("Invalidated cached responses",
				"function", "invalidate",
				"space", space,
				"removed", removed)
		}
	}
}

// resourceSpace keeps the first depth segments of path: /api/trade/cancel/1
// with depth 2 is /api/trade.
func resourceSpace(path string, depth int) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) > depth {
		segments = segments[:depth]
	}
	return "/" + strings.Join(segments, "/")
}

func unwrapEnvelope(body []byte) (json.RawMessage, error) {
	var env Envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &SerializationError{Err: err}
	}

	if !env.Success {
		code, message := env.Code, env.Message
		if code == "" {
			code = "unknown"
		}
		if message == "" {
			message = "Unknown error"
		}
		return nil, &APIError{Code: code, Message: message}
	}

	if env.Data == nil || bytes.Equal(bytes.TrimSpace(*env.Data), []byte("null")) {
		return nil, &APIError{Code: "no_data", Message: "Response did not contain data"}
	}
	return *env.Data, nil
}

func retryAfter(header http.Header) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &SerializationError{Err: err}
	}
	return v, nil
}

// Get performs a cached GET and decodes the payload into T.
func Get[T any](ctx context.Context, d *Dispatcher, path string, query url.Values) (T, error) {
	data, err := d.Execute(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](data)
}

// Query performs a read-style POST whose response is cached by body.
func Query[T any](ctx context.Context, d *Dispatcher, path string, body any) (T, error) {
	data, err := d.Execute(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Cacheable: true})
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](data)
}

// Post performs an uncached POST.
func Post[T any](ctx context.Context, d *Dispatcher, path string, body any) (T, error) {
	data, err := d.Execute(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](data)
}

// Put performs a PUT and invalidates cached GETs of the same resource space.
func Put[T any](ctx context.Context, d *Dispatcher, path string, body any) (T, error) {
	data, err := d.Execute(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](data)
}

// Delete performs a DELETE and invalidates cached GETs and POSTs of the same
// resource space.
func Delete[T any](ctx context.Context, d *Dispatcher, path string) (T, error) {
	data, err := d.Execute(ctx, Request{Method: http.MethodDelete, Path: path})
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](data)
}
