// Package auth guards the upload surface with HTTP basic authentication
// against the configured credentials.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/galleryd/galleryd/internal/config"
)

// ErrNotConfigured is returned by Verify when no password is configured.
var ErrNotConfigured = errors.New("auth: no credentials configured")

// ErrInvalidCredentials is returned by Verify for a wrong user or password.
var ErrInvalidCredentials = errors.New("auth: invalid username or password")

// contextKey is an unexported type used for context keys to avoid collisions.
type contextKey int

const userKey contextKey = iota

// UserFromContext returns the authenticated user name, or "" for anonymous
// requests.
func UserFromContext(ctx context.Context) string {
	u, _ := ctx.Value(userKey).(string)
	return u
}

func contextWithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// Verifier checks basic-auth credentials.
type Verifier struct {
	username string
	password []byte
	hash     []byte
	realm    string
}

// NewVerifier creates a Verifier from the auth configuration. A bcrypt
// PasswordHash takes precedence over a plain Password.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{username: cfg.Username, realm: cfg.Realm}
	if v.realm == "" {
		v.realm = "galleryd"
	}
	switch {
	case cfg.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("invalid auth.password_hash: %w", err)
		}
		v.hash = []byte(cfg.PasswordHash)
	case cfg.Password != "":
		v.password = []byte(cfg.Password)
	}
	return v, nil
}

// Configured reports whether any password is set.
func (v *Verifier) Configured() bool {
	return len(v.hash) > 0 || len(v.password) > 0
}

// Verify checks a username and password.
func (v *Verifier) Verify(username, password string) error {
	if !v.Configured() {
		return ErrNotConfigured
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1
	var passOK bool
	if len(v.hash) > 0 {
		passOK = bcrypt.CompareHashAndPassword(v.hash, []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), v.password) == 1
	}
	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}

// Challenge writes the 401 response asking the client to log in.
func (v *Verifier) Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, v.realm))
	w.WriteHeader(http.StatusUnauthorized)
}

// Middleware returns HTTP middleware that requires valid basic-auth
// credentials. Rejected requests are handed to deny, which must write the
// response; a nil deny sends a bare challenge. On success the user name is
// set on the request context.
func Middleware(v *Verifier, deny func(w http.ResponseWriter, r *http.Request)) func(http.Handler) http.Handler {
	if deny == nil {
		deny = func(w http.ResponseWriter, r *http.Request) { v.Challenge(w) }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				deny(w, r)
				return
			}
			if err := v.Verify(user, pass); err != nil {
				slog.Warn("Authentication failed", "user", user, "path", r.URL.Path, "error", err)
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), user)))
		})
	}
}
