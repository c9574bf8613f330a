package localstate

import "context"

// Repository persists a session's local state: opaque JSON blobs keyed by
// well-known names (cart, favorites, access_token, ...). A missing key is
// reported as domain.ErrNotFound.
type Repository interface {
	Get(ctx context.Context, sessionID, key string) ([]byte, error)
	Set(ctx context.Context, sessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID string, keys ...string) error
	Keys(ctx context.Context, sessionID string) ([]string, error)
}
