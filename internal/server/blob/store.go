// Package blob implements the opaque byte store for encrypted payloads.
//
// The store knows nothing about encryption: it maps an opaque reference to
// bytes. References are generated on save (date-partitioned random keys),
// deletion is idempotent, and a missing blob on read surfaces as
// common.ErrNotFound.
package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the contract the lifecycle engine depends on.
type Store interface {
	// Save persists data and returns a new opaque reference to it.
	Save(ctx context.Context, data []byte) (string, error)

	// Read returns the bytes behind ref, or common.ErrNotFound.
	Read(ctx context.Context, ref string) ([]byte, error)

	// Delete removes the blob. Deleting an absent ref is a no-op.
	Delete(ctx context.Context, ref string) error
}

// newRef builds a date-partitioned random storage key, e.g.
// "2025/06/01/5b2f...". Partitioning keeps listings of any one prefix
// small on filesystem backends.
func newRef(now time.Time) string {
	return fmt.Sprintf("%d/%02d/%02d/%s", now.Year(), now.Month(), now.Day(), uuid.New())
}
