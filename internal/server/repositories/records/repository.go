// Package records implements the file record store: persistent metadata
// keyed by file ID and by public short-URL token.
//
// Three implementations share one contract: PostgreSQL for multi-instance
// deployments, Badger for single-binary deployments, and an in-memory store
// for tests and local development. All of them enforce the download cap at
// the store, not in the caller: ConditionalIncrementDownload is the single
// atomic primitive that keeps concurrent downloads from jointly exceeding
// maxDownloads.
package records

import (
	"context"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/server/models"
)

type Repository interface {
	// Insert persists a new record. Returns common.ErrAlreadyExists when the
	// id or short URL collides with an existing row.
	Insert(ctx context.Context, rec *models.FileRecord) error

	// FindByID returns the record with the given internal id, excluding
	// soft-deleted rows. Returns common.ErrNotFound when absent.
	FindByID(ctx context.Context, id string) (*models.FileRecord, error)

	// FindByShortURL is FindByID keyed by the public token.
	FindByShortURL(ctx context.Context, token string) (*models.FileRecord, error)

	// ConditionalIncrementDownload atomically increments download_count
	// under the precondition that the record is still active at now:
	// not deleted, not expired, and below its download cap. On success it
	// returns the post-increment count and true; a failed precondition
	// returns false and no error.
	ConditionalIncrementDownload(ctx context.Context, id string, now time.Time) (int64, bool, error)

	// MarkDeleted soft-deletes a record. Idempotent: re-marking an already
	// deleted or absent record is a no-op.
	MarkDeleted(ctx context.Context, id string) error

	// MarkNotified records that a pre-expiry notification was emitted.
	// Idempotent.
	MarkNotified(ctx context.Context, id string) error

	// FindExpired lists records with expires_at < before that are not yet
	// soft-deleted.
	FindExpired(ctx context.Context, before time.Time) ([]*models.FileRecord, error)

	// FindExpiring lists not-yet-notified, not-deleted records with
	// from <= expires_at < to. Used by the sweeper's pre-expiry pass.
	FindExpiring(ctx context.Context, from, to time.Time) ([]*models.FileRecord, error)

	// Close releases underlying resources.
	Close() error
}
