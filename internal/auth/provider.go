// Package auth defines the identity provider contract the session cache
// consumes, and its Supabase GoTrue implementation.
package auth

import (
	"context"
	"time"
)

// expiryMargin treats tokens as expired slightly early so requests never race the deadline.
const expiryMargin = 30 * time.Second

// Tokens is the credential pair persisted per visitor.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsZero reports whether no credentials are held.
func (t Tokens) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// Expired reports whether the access token should be refreshed before use.
func (t Tokens) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expiryMargin).Before(t.ExpiresAt)
}

// Identity is the signed-in user.
type Identity struct {
	UserID   string
	Email    string
	Metadata map[string]any
}

// Grant is a resolved identity together with the tokens that prove it.
// Tokens may differ from the ones passed in when the provider refreshed them.
type Grant struct {
	Identity Identity
	Tokens   Tokens
}

// HasTokens reports whether the grant carries a usable session.
func (g *Grant) HasTokens() bool {
	return g != nil && g.Tokens.AccessToken != ""
}

// Provider is the identity collaborator.
//
// Errors wrapping errors.ErrNoSession mean the provider answered and there is
// no valid session. Errors wrapping errors.ErrTransport mean it could not be
// asked. Credential rejections are returned as *RejectedError.
type Provider interface {
	GetCurrentSession(ctx context.Context, tokens Tokens) (*Grant, error)
	SignIn(ctx context.Context, email, password string) (*Grant, error)
	// SignUp returns a grant without tokens when email confirmation is pending.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Grant, error)
	SignOut(ctx context.Context, tokens Tokens) error
}

// RejectedError is a provider refusal the user can act on, such as wrong credentials.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return e.Message
}
