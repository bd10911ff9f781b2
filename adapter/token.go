package webull

import (
	"time"

	"golang.org/x/oauth2"
)

// AccessToken is the session token issued by the login, MFA and refresh exchanges.
type AccessToken struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
}

// ExpiredAt reports whether the token is unusable at now. A token is usable only
// while now is strictly before ExpiresAt.
func (t AccessToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// CanRefresh reports whether the token carries a refresh token.
func (t AccessToken) CanRefresh() bool {
	return t.RefreshToken != ""
}

// OAuth2 converts the token into an oauth2.Token with a bearer type.
func (t AccessToken) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.Token,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// Credentials are the username and password used for login and MFA continuation.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
