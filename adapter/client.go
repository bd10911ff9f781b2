package webull

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Client is the entry point of the adapter. It wires the auth manager, the
// shared rate limiter and response caches, and the endpoint groups.
type Client struct {
	cfg         Config
	auth        *AuthManager
	dispatcher  *Dispatcher
	credentials CredentialStore
	httpClient  *http.Client
	metrics     *Metrics
	logger      *slog.Logger
	closers     []io.Closer
}

// Option customizes NewClient.
type Option func(*clientOptions)

type clientOptions struct {
	logger      *slog.Logger
	httpClient  *http.Client
	tokenStore  TokenStore
	credentials CredentialStore
	metrics     *Metrics
	backoff     BackoffStrategy
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithHTTPClient replaces the REST transport. Its Timeout is left untouched.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = httpClient }
}

// WithTokenStore overrides the store selected by Config.TokenStore.Kind.
func WithTokenStore(store TokenStore) Option {
	return func(o *clientOptions) { o.tokenStore = store }
}

func WithCredentialStore(store CredentialStore) Option {
	return func(o *clientOptions) { o.credentials = store }
}

func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithBackoff sets the strategy returned by the limiter's HandleRateLimitError.
func WithBackoff(b BackoffStrategy) Option {
	return func(o *clientOptions) { o.backoff = b }
}

// NewClient builds a client from cfg.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := loggerOrDefault(o.logger)
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTP.Timeout}
	}

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		metrics:    o.metrics,
		logger:     logger,
	}

	store := o.tokenStore
	if store == nil {
		var err error
		if store, err = c.newTokenStore(cfg.TokenStore); err != nil {
			return nil, err
		}
	}

	c.credentials = o.credentials
	if c.credentials == nil {
		c.credentials = NewMemoryCredentialStore()
	}

	baseURL := cfg.EffectiveBaseURL()
	c.auth = NewAuthManager(baseURL, cfg.Auth, httpClient, store, logger)

	limiter := NewRateLimiter(cfg.RateLimit.RequestsPerMinute, o.backoff).WithMetrics(o.metrics)
	c.dispatcher = NewDispatcher(httpClient, c.auth, limiter, DispatcherOptions{
		BaseURL: baseURL,
		Timeout: cfg.HTTP.Timeout,
		Cache:   cfg.Cache,
		Auth:    cfg.Auth,
		Metrics: o.metrics,
		Logger:  logger,
	})

	logger.Info("Client created",
		"function", "NewClient",
		"base_url", baseURL,
		"paper_trading", cfg.PaperTrading,
		"token_store", fmt.Sprintf("%T", store))
	return c, nil
}

func (c *Client) newTokenStore(cfg TokenStoreConfig) (TokenStore, error) {
	switch cfg.Kind {
	case TokenStoreFile:
		store, err := NewFileTokenStore(cfg.Path, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to create file token store: %w", err)
		}
		return store, nil
	case TokenStoreRedis:
		store := NewRedisTokenStore(NewRedisClient(cfg), cfg.RedisKey, cfg.Retention, c.logger)
		c.closers = append(c.closers, store)
		return store, nil
	default:
		return NewMemoryTokenStore(), nil
	}
}

// PaperTrading returns a new client against the paper trading environment.
// It shares no session, cache or limiter state with c; its token lives in
// memory unless opts supply a store.
func (c *Client) PaperTrading(opts ...Option) (*Client, error) {
	cfg := c.cfg
	cfg.PaperTrading = true
	base := []Option{
		WithLogger(c.logger),
		WithHTTPClient(c.httpClient),
		WithMetrics(c.metrics),
		WithTokenStore(NewMemoryTokenStore()),
	}
	return NewClient(cfg, append(base, opts...)...)
}

// IsPaperTrading reports whether the client targets the paper environment.
func (c *Client) IsPaperTrading() bool {
	return c.cfg.PaperTrading
}

// Config returns the configuration the client was built from.
func (c *Client) Config() Config {
	return c.cfg
}

// Auth exposes the auth manager, e.g. as the token provider of a streaming client.
func (c *Client) Auth() *AuthManager {
	return c.auth
}

// Dispatcher exposes the request dispatcher for endpoints not wrapped here.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Login authenticates and remembers the credentials in the credential store.
// ErrMFARequired means VerifyMFA must follow.
func (c *Client) Login(ctx context.Context, username, password string) (AccessToken, error) {
	token, err := c.auth.Authenticate(ctx, username, password)
	if err != nil && !errors.Is(err, ErrMFARequired) {
		return AccessToken{}, err
	}

	if storeErr := c.credentials.StoreCredentials(ctx, Credentials{Username: username, Password: password}); storeErr != nil {
		c.logger.Warn("Unable to remember credentials",
			"function", "Login",
			"error", storeErr)
	}
	return token, err
}

// VerifyMFA completes a login that returned ErrMFARequired.
func (c *Client) VerifyMFA(ctx context.Context, code string) (AccessToken, error) {
	return c.auth.MultiFactorAuth(ctx, code)
}

// LoginWithRemembered logs in with the stored credentials.
func (c *Client) LoginWithRemembered(ctx context.Context) (AccessToken, error) {
	creds, err := c.credentials.GetCredentials(ctx)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	if creds == nil {
		return AccessToken{}, invalidRequest("no remembered credentials")
	}
	return c.auth.Authenticate(ctx, creds.Username, creds.Password)
}

// RememberedUsername returns the username of the stored credentials, or "".
func (c *Client) RememberedUsername(ctx context.Context) (string, error) {
	creds, err := c.credentials.GetCredentials(ctx)
	if err != nil || creds == nil {
		return "", err
	}
	return creds.Username, nil
}

func (c *Client) RefreshToken(ctx context.Context) (AccessToken, error) {
	return c.auth.RefreshToken(ctx)
}

// Logout revokes the session, forgets the credentials and clears cached responses.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.auth.RevokeToken(ctx); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if err := c.credentials.ClearCredentials(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	c.dispatcher.ClearCache()
	return nil
}

func (c *Client) IsAuthenticated(ctx context.Context) bool {
	return c.auth.IsAuthenticated(ctx)
}

// GetHTTPClient returns an http.Client that attaches the session token.
func (c *Client) GetHTTPClient(ctx context.Context) *http.Client {
	return c.auth.HTTPClient(ctx, c.httpClient)
}

// Close releases resources held by the token store.
func (c *Client) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
