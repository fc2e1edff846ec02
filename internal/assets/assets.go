// Package assets stores the side files that accompany dashboards: thumbnail
// images keyed by external dashboard id, and per-owner JSON geometry/style
// files referenced from Map grid items. Writes are not transactional with the
// database; callers treat failures as surfaced-but-committed.
package assets

import "context"

// Store is the asset collaborator. Keys are slash-separated relative paths
// ("<uuid>.png", "<owner>/<file>.geojson").
type Store interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Copy(ctx context.Context, sourceKey, destKey string) error
	Delete(ctx context.Context, key string) error
	// List returns the base names of objects directly under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
