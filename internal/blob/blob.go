// Package blob is the object-storage boundary. Originals and derivatives
// live behind it; workers coordinate only through these keys.
package blob

import "context"

type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// URL returns the public URL an object is reachable at once stored.
	URL(key string) string
}
