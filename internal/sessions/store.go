package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidToken is returned for unknown or expired tokens.
var ErrInvalidToken = errors.New("invalid session token")

// DefaultTTL is how long a session stays valid without renewal.
const DefaultTTL = 24 * time.Hour

// Store resolves bearer tokens to user ids. Implementations are safe for
// concurrent use.
type Store interface {
	Validate(ctx context.Context, token string) (string, error)
	Put(ctx context.Context, token, userID string, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
	Close() error
}
