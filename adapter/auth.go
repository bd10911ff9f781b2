package webull

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	loginPath   = "/api/passport/login/v5/account"
	mfaPath     = "/api/passport/verificationCode/verify"
	refreshPath = "/api/passport/refreshToken"
	logoutPath  = "/api/passport/logout"
)

// HTTPDoer sends one HTTP request. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuthManager owns the session token lifecycle: login, MFA continuation,
// refresh and logout. The configured TokenStore is the single source of truth
// for whether the session is authenticated; expiry is checked on every read.
type AuthManager struct {
	baseURL    string
	cfg        AuthConfig
	httpClient HTTPDoer
	store      TokenStore
	signer     *requestSigner
	logger     *slog.Logger
	now        func() time.Time

	credMu      sync.Mutex
	credentials *Credentials

	refreshGroup singleflight.Group
}

// NewAuthManager creates an auth manager talking to baseURL. A nil store
// defaults to an in-memory store; an empty DeviceID gets a random UUID.
func NewAuthManager(baseURL string, cfg AuthConfig, httpClient HTTPDoer, store TokenStore, logger *slog.Logger) *AuthManager {
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if store == nil {
		store = NewMemoryTokenStore()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &AuthManager{
		baseURL:    baseURL,
		cfg:        cfg,
		httpClient: httpClient,
		store:      store,
		signer:     newRequestSigner(cfg.APIKey, cfg.APISecret),
		logger:     loggerOrDefault(logger),
		now:        time.Now,
	}
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	MFARequired  bool   `json:"mfa_required"`
}

// DeviceID returns the device identifier sent with login requests.
func (am *AuthManager) DeviceID() string {
	return am.cfg.DeviceID
}

// Authenticate logs in with username and password and stores the issued token.
// The credentials are kept in memory for a following MultiFactorAuth call.
func (am *AuthManager) Authenticate(ctx context.Context, username, password string) (AccessToken, error) {
	if username == "" || password == "" {
		return AccessToken{}, invalidRequest("username and password are required")
	}

	am.credMu.Lock()
	am.credentials = &Credentials{Username: username, Password: password}
	am.credMu.Unlock()

	body := map[string]string{
		"username":   username,
		"password":   password,
		"deviceId":   am.cfg.DeviceID,
		"deviceName": am.cfg.DeviceName,
		"deviceType": "Web",
	}

	resp, err := am.exchange(ctx, loginPath, body)
	if err != nil {
		am.logger.Error("Login failed",
			"function", "Authenticate",
			"username", username,
			"error", err)
		return AccessToken{}, err
	}
	if resp.AccessToken == "" && resp.MFARequired {
		am.logger.Info("Login requires verification code",
			"function", "Authenticate",
			"username", username)
		return AccessToken{}, ErrMFARequired
	}

	return am.storeLoginResponse(ctx, "Authenticate", resp, "")
}

// MultiFactorAuth completes a login with a verification code. It requires a
// prior Authenticate call on the same manager.
func (am *AuthManager) MultiFactorAuth(ctx context.Context, code string) (AccessToken, error) {
	am.credMu.Lock()
	creds := am.credentials
	am.credMu.Unlock()

	if creds == nil {
		return AccessToken{}, invalidRequest("no credentials available for MFA")
	}

	body := map[string]string{
		"username":         creds.Username,
		"verificationCode": code,
		"deviceId":         am.cfg.DeviceID,
	}

	resp, err := am.exchange(ctx, mfaPath, body)
	if err != nil {
		return AccessToken{}, err
	}
	return am.storeLoginResponse(ctx, "MultiFactorAuth", resp, "")
}

// RefreshToken exchanges the stored refresh token for a new access token.
// Concurrent callers share one exchange.
func (am *AuthManager) RefreshToken(ctx context.Context) (AccessToken, error) {
	v, err, shared := am.refreshGroup.Do("refresh", func() (any, error) {
		return am.refresh(ctx)
	})
	if err != nil {
		return AccessToken{}, err
	}
	if shared {
		am.logger.Debug("Joined in-flight token refresh", "function", "RefreshToken")
	}
	return v.(AccessToken), nil
}

func (am *AuthManager) refresh(ctx context.Context) (AccessToken, error) {
	current, err := am.store.GetToken(ctx)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to read token: %w", err)
	}
	if current == nil {
		return AccessToken{}, invalidRequest("no token available to refresh")
	}
	if !current.CanRefresh() {
		return AccessToken{}, invalidRequest("no refresh token available")
	}

	body := map[string]string{
		"refreshToken": current.RefreshToken,
		"deviceId":     am.cfg.DeviceID,
	}

	resp, err := am.exchange(ctx, refreshPath, body)
	if err != nil {
		am.logger.Error("Unable to refresh token",
			"function", "RefreshToken",
			"error", err)
		return AccessToken{}, err
	}
	return am.storeLoginResponse(ctx, "RefreshToken", resp, current.RefreshToken)
}

// GetToken returns the stored token if it is present and unexpired, and
// ErrUnauthorized otherwise. Every authenticated request passes through here.
func (am *AuthManager) GetToken(ctx context.Context) (AccessToken, error) {
	token, err := am.store.GetToken(ctx)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to read token: %w", err)
	}
	if token == nil {
		return AccessToken{}, ErrUnauthorized
	}
	if token.ExpiredAt(am.now()) {
		return AccessToken{}, fmt.Errorf("%w: token expired at %s", ErrUnauthorized, token.ExpiresAt.Format(time.RFC3339))
	}
	return *token, nil
}

// IsAuthenticated reports whether a usable token is stored.
func (am *AuthManager) IsAuthenticated(ctx context.Context) bool {
	_, err := am.GetToken(ctx)
	return err == nil
}

// RevokeToken logs out remotely and clears the stored token and credentials.
// A 401 from the logout endpoint counts as already logged out. Without a
// stored token this is a no-op.
func (am *AuthManager) RevokeToken(ctx context.Context) error {
	token, err := am.store.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == nil {
		return nil
	}

	status, body, err := am.post(ctx, logoutPath, nil, token.Token)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusUnauthorized:
		am.logger.Info("Token already invalid at logout", "function", "RevokeToken")
	case status < 200 || status >= 300:
		return classifyStatus(status, body)
	}

	if err := am.store.ClearToken(ctx); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}

	am.credMu.Lock()
	am.credentials = nil
	am.credMu.Unlock()

	am.logger.Info("Logged out", "function", "RevokeToken")
	return nil
}

// Token implements oauth2.TokenSource over GetToken.
func (am *AuthManager) Token() (*oauth2.Token, error) {
	token, err := am.GetToken(context.Background())
	if err != nil {
		return nil, err
	}
	return token.OAuth2(), nil
}

// HTTPClient returns an http.Client that attaches the current bearer token to
// every request. base supplies the transport; nil uses http.DefaultClient.
func (am *AuthManager) HTTPClient(ctx context.Context, base *http.Client) *http.Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	return oauth2.NewClient(ctx, am)
}

func (am *AuthManager) storeLoginResponse(ctx context.Context, function string, resp loginResponse, previousRefresh string) (AccessToken, error) {
	if resp.AccessToken == "" {
		return AccessToken{}, &APIError{Code: "no_token", Message: "Response did not contain an access token"}
	}

	token := AccessToken{
		Token:        resp.AccessToken,
		ExpiresAt:    am.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		RefreshToken: resp.RefreshToken,
	}
	if token.RefreshToken == "" {
		token.RefreshToken = previousRefresh
	}

	if err := am.store.StoreToken(ctx, token); err != nil {
		return AccessToken{}, fmt.Errorf("failed to store token: %w", err)
	}

	am.logger.Info("Stored new token",
		"function", function,
		"token", maskSecret(token.Token),
		"expires_at", token.ExpiresAt)
	return token, nil
}

// exchange posts a JSON body to one of the passport endpoints and decodes the
// token response.
func (am *AuthManager) exchange(ctx context.Context, path string, payload any) (loginResponse, error) {
	status, body, err := am.post(ctx, path, payload, "")
	if err != nil {
		return loginResponse{}, err
	}
	if status < 200 || status >= 300 {
		return loginResponse{}, classifyStatus(status, body)
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return loginResponse{}, &SerializationError{Err: err}
	}
	return resp, nil
}

func (am *AuthManager) post(ctx context.Context, path string, payload any, bearer string) (int, []byte, error) {
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return 0, nil, &SerializationError{Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, am.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	am.signer.sign(req, raw)

	resp, err := am.httpClient.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: "POST " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &NetworkError{Op: "read " + path, Err: err}
	}
	return resp.StatusCode, body, nil
}

// classifyStatus maps a non-2xx status to the error taxonomy.
func classifyStatus(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimitExceeded
	default:
		return &APIError{Code: strconv.Itoa(status), Message: string(body)}
	}
}
