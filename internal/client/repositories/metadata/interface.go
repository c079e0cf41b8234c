// Package metadata stores small key/value facts about the local library,
// such as the time of the last successful sync of each blog.
package metadata

import (
	"context"
)

// Repository is a flat key/value store. Get returns (nil, nil) for a
// missing key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	List(ctx context.Context) (map[string][]byte, error)
}
