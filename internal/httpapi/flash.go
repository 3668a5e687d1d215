package httpapi

import (
	"crypto/rand"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/communicity/portal/internal/hierarchy"
)

// flashCookie carries a notification across a post/redirect/get round trip.
const flashCookie = "communicity_flash"

const flashTTL = time.Minute

type flashClaims struct {
	Notification hierarchy.Notification `json:"n"`
	jwt.RegisteredClaims
}

// flasher signs flash cookies so visitors cannot plant notifications of their own.
type flasher struct {
	key    []byte
	secure bool
}

// newFlasher uses key, or a random per-process key when key is empty.
func newFlasher(key []byte, secure bool) *flasher {
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &flasher{key: key, secure: secure}
}

func (f *flasher) set(w http.ResponseWriter, n hierarchy.Notification) {
	claims := flashClaims{
		Notification: n,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(flashTTL)),
		},
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.key)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(flashTTL.Seconds()),
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// take returns the pending notification, if any, and clears it. Unsigned,
// tampered or expired cookies are dropped.
func (f *flasher) take(w http.ResponseWriter, r *http.Request) *hierarchy.Notification {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", MaxAge: -1})

	var claims flashClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (interface{}, error) {
		return f.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Notification.Title == "" {
		return nil
	}
	return &claims.Notification
}
