package session

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Keys used by the 2FA flows. Everything the core stashes in the session
// lives under one of these names.
const (
	KeyVerifiedAt      = "twofa_verified_at"
	KeyNextURL         = "twofa_next_url"
	KeySetupMethod     = "twofa_setup_method"
	KeySetupSecret     = "twofa_setup_secret"
	KeySetupSecretShow = "twofa_setup_secret_display"
	KeySetupQRCode     = "twofa_setup_qr_code"
	KeyNewBackupCodes  = "twofa_new_backup_codes"
	KeyEmailOTPSent    = "twofa_email_otp_sent"
)

const cookieName = "twofa_session"

// Store is a per-session key-value store. Implementations must be safe for
// concurrent use across requests.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Put(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID, key string) error
}

// Session binds a session ID to its store for the duration of a request.
type Session struct {
	ID    string
	store Store
}

// New returns a session handle for the given ID.
func New(id string, store Store) *Session {
	return &Session{ID: id, store: store}
}

// Get returns the value for key, or "" when absent.
func (s *Session) Get(ctx context.Context, key string) (string, error) {
	return s.store.Get(ctx, s.ID, key)
}

// Put stores a value under key.
func (s *Session) Put(ctx context.Context, key, value string) error {
	return s.store.Put(ctx, s.ID, key, value)
}

// Delete removes key from the session.
func (s *Session) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.ID, key)
}

// Pop returns the value for key and removes it in one step. Used for
// one-time values such as the freshly generated backup codes.
func (s *Session) Pop(ctx context.Context, key string) (string, error) {
	value, err := s.store.Get(ctx, s.ID, key)
	if err != nil {
		return "", err
	}
	if value != "" {
		if err := s.store.Delete(ctx, s.ID, key); err != nil {
			return "", err
		}
	}
	return value, nil
}

type contextKey struct{}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}

// Middleware identifies the session by cookie, issuing a new session ID
// when none is present, and attaches the session to the request context.
func Middleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
				id = cookie.Value
			} else {
				id = uuid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			sess := New(id, store)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, sess)))
		})
	}
}
