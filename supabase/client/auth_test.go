package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionBody = `{
	"access_token": "access-1",
	"token_type": "bearer",
	"expires_in": 3600,
	"refresh_token": "refresh-1",
	"user": {"id": "u1", "email": "ada@example.com", "user_metadata": {"username": "ada", "avatar_url": "https://img/ada.png", "spark_coins": 100}}
}`

func TestSignIn(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body["email"])
		w.Write([]byte(sessionBody))
	})

	resp, err := c.Auth().SignIn(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)
	require.True(t, resp.HasSession())
	assert.Equal(t, "ada", resp.User.Metadata("username"))
	assert.Equal(t, "https://img/ada.png", resp.User.Metadata("avatar_url"))
	assert.Equal(t, float64(100), resp.User.MetadataMap()["spark_coins"])

	now := time.Unix(1_000, 0)
	assert.Equal(t, now.Add(time.Hour), resp.Expiry(now))
}

func TestSignInInvalidCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	_, err := c.Auth().SignIn(context.Background(), "ada@example.com", "wrong")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid login credentials", apiErr.Message)
}

func TestSignUpPendingConfirmation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"spark_coins": float64(100)}, body["data"])
		w.Write([]byte(`{"id":"u2","email":"bo@example.com","user_metadata":{"spark_coins":100}}`))
	})

	resp, err := c.Auth().SignUp(context.Background(), "bo@example.com", "secret", map[string]any{"spark_coins": 100})
	require.NoError(t, err)
	assert.False(t, resp.HasSession())
	require.NotNil(t, resp.User)
	assert.Equal(t, "u2", resp.User.ID)
}

func TestRefreshAndSignOut(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			w.Write([]byte(sessionBody))
		case "/auth/v1/logout":
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	resp, err := c.Auth().RefreshToken(context.Background(), "refresh-0")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", resp.RefreshToken)

	assert.NoError(t, c.Auth().SignOut(context.Background(), "access-1"))
}

func TestGetUserUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":401,"msg":"invalid JWT"}`))
	})

	_, err := c.Auth().GetUser(context.Background(), "stale")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestUserMetadataMissing(t *testing.T) {
	var u *User
	assert.Equal(t, "", u.Metadata("username"))
	assert.Empty(t, (&User{}).MetadataMap())
}
