package user

import (
	"context"

	"github.com/google/uuid"
)

// User is the minimal identity the 2FA core needs from the surrounding
// application: who the user is, where to send email codes, and whether the
// superuser exemption may apply.
type User struct {
	ID        uuid.UUID
	Email     string
	Superuser bool
}

// Directory resolves users by ID. The surrounding application supplies the
// implementation; the 2FA core never manages user records itself.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
}

type contextKey struct{}

// NewContext returns a context carrying the authenticated user.
func NewContext(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// FromContext extracts the authenticated user from the context.
// The second return value is false for unauthenticated requests.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(contextKey{}).(User)
	return u, ok
}
