// Package session owns each visitor's authentication state: the observable
// session cache, the per-visitor manager and the token stores behind them.
package session

import (
	"net/url"
	"reflect"
	"strings"

	"github.com/communicity/portal/internal/auth"
)

// Session is the signed-in user as seen by navigation.
type Session struct {
	UserID   string         `json:"userId"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func fromIdentity(id auth.Identity) *Session {
	return &Session{UserID: id.UserID, Email: id.Email, Metadata: id.Metadata}
}

// MetadataString returns a user_metadata value as a string, or "".
func (s *Session) MetadataString(key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.Metadata[key].(string)
	if !ok {
		return ""
	}
	return v
}

// DisplayName is the username, falling back to the local part of the email.
func (s *Session) DisplayName() string {
	if name := s.MetadataString("username"); name != "" {
		return name
	}
	if s == nil {
		return ""
	}
	local, _, _ := strings.Cut(s.Email, "@")
	return local
}

// AvatarURL is the avatar from metadata or a generated initials avatar.
func (s *Session) AvatarURL() string {
	if u := s.MetadataString("avatar_url"); u != "" {
		return u
	}
	if s == nil {
		return ""
	}
	return "https://api.dicebear.com/7.x/initials/svg?seed=" + url.QueryEscape(s.Email)
}

func sameIdentity(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UserID == b.UserID && a.Email == b.Email && reflect.DeepEqual(a.Metadata, b.Metadata)
}
