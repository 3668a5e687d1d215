package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/communicity/portal/internal/errors"
	"github.com/communicity/portal/supabase/client"
)

// SupabaseProvider resolves sessions against Supabase GoTrue.
type SupabaseProvider struct {
	auth     *client.AuthClient
	verifier *client.TokenVerifier
	now      func() time.Time
}

// NewSupabaseProvider creates a provider. With a JWT secret, access tokens are
// verified locally; without one every lookup asks GoTrue for the user.
func NewSupabaseProvider(c *client.Client, jwtSecret string) *SupabaseProvider {
	return &SupabaseProvider{
		auth:     c.Auth(),
		verifier: client.NewTokenVerifier(jwtSecret),
		now:      time.Now,
	}
}

// GetCurrentSession implements Provider.
func (p *SupabaseProvider) GetCurrentSession(ctx context.Context, tokens Tokens) (*Grant, error) {
	if tokens.IsZero() {
		return nil, apperrors.ErrNoSession
	}

	if tokens.AccessToken != "" && !tokens.Expired(p.now()) {
		grant, err := p.resolve(ctx, tokens)
		if err == nil {
			return grant, nil
		}
		if !errors.Is(err, errExpired) {
			return nil, err
		}
	}
	return p.refresh(ctx, tokens.RefreshToken)
}

var errExpired = errors.New("access token expired")

func (p *SupabaseProvider) resolve(ctx context.Context, tokens Tokens) (*Grant, error) {
	if p.verifier != nil {
		claims, err := p.verifier.VerifyAccessToken(tokens.AccessToken)
		switch {
		case errors.Is(err, client.ErrTokenExpired):
			return nil, errExpired
		case err != nil:
			return nil, fmt.Errorf("%w: %v", apperrors.ErrNoSession, err)
		}
		return &Grant{
			Identity: Identity{UserID: claims.UserID(), Email: claims.Email, Metadata: claims.UserMetadata},
			Tokens:   tokens,
		}, nil
	}

	user, err := p.auth.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		if isUnauthorized(err) {
			return nil, errExpired
		}
		return nil, classify(err)
	}
	return &Grant{Identity: identityFromUser(user), Tokens: tokens}, nil
}

func (p *SupabaseProvider) refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, apperrors.ErrNoSession
	}
	resp, err := p.auth.RefreshToken(ctx, refreshToken)
	if err != nil {
		err = classify(err)
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNoSession, rejected.Message)
		}
		return nil, err
	}
	if !resp.HasSession() {
		return nil, apperrors.ErrNoSession
	}
	return p.grantFrom(resp), nil
}

// SignIn implements Provider.
func (p *SupabaseProvider) SignIn(ctx context.Context, email, password string) (*Grant, error) {
	resp, err := p.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, classify(err)
	}
	if !resp.HasSession() {
		return nil, fmt.Errorf("%w: sign-in returned no session", apperrors.ErrTransport)
	}
	return p.grantFrom(resp), nil
}

// SignUp implements Provider.
func (p *SupabaseProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Grant, error) {
	resp, err := p.auth.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, classify(err)
	}
	if resp.HasSession() {
		return p.grantFrom(resp), nil
	}
	grant := &Grant{}
	if resp.User != nil {
		grant.Identity = identityFromUser(resp.User)
	}
	return grant, nil
}

// SignOut implements Provider. A token the provider no longer accepts counts as signed out.
func (p *SupabaseProvider) SignOut(ctx context.Context, tokens Tokens) error {
	if tokens.AccessToken == "" {
		return nil
	}
	err := p.auth.SignOut(ctx, tokens.AccessToken)
	if err == nil || isUnauthorized(err) {
		return nil
	}
	return classify(err)
}

func (p *SupabaseProvider) grantFrom(resp *client.AuthResponse) *Grant {
	return &Grant{
		Identity: identityFromUser(resp.User),
		Tokens: Tokens{
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
			ExpiresAt:    resp.Expiry(p.now()),
		},
	}
}

func identityFromUser(u *client.User) Identity {
	return Identity{UserID: u.ID, Email: u.Email, Metadata: u.MetadataMap()}
}

func isUnauthorized(err error) bool {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// classify turns client errors into RejectedError for 4xx answers and
// ErrTransport for everything else.
func classify(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusTooManyRequests {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &RejectedError{StatusCode: apiErr.StatusCode, Message: msg}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
}
