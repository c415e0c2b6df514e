package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/dbx"
	"github.com/cipherdrop/cipherdrop/internal/server/migrations"
	"github.com/cipherdrop/cipherdrop/internal/server/models"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements the record store over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db    dbx.DBTX
	owned *sql.DB
}

// NewPostgres constructs a repository bound to the given DBTX.
func NewPostgres(db dbx.DBTX) *PostgresRepository {
	r := &PostgresRepository{db: db}
	if sqlDB, ok := db.(*sql.DB); ok {
		r.owned = sqlDB
	}
	return r
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

const recordColumns = `id, short_url, encrypted_size, algorithm, iv, salt, iterations,
		content_category, password_hash, created_at, expires_at,
		max_downloads, download_count, is_deleted, notified, blob_ref`

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.FileRecord) error {
	query := `
		INSERT INTO file_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	var maxDownloads sql.NullInt64
	if rec.MaxDownloads != nil {
		maxDownloads = sql.NullInt64{Int64: *rec.MaxDownloads, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.ShortURL, rec.EncryptedSize, rec.Algorithm, rec.IV, rec.Salt, rec.Iterations,
		rec.ContentCategory, rec.PasswordHash, rec.CreatedAt, rec.ExpiresAt,
		maxDownloads, rec.DownloadCount, rec.IsDeleted, rec.Notified, rec.BlobRef)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.FileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM file_records WHERE id=$1 AND NOT is_deleted`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) FindByShortURL(ctx context.Context, token string) (*models.FileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM file_records WHERE short_url=$1 AND NOT is_deleted`
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

// ConditionalIncrementDownload is the single compare-and-swap in the system:
// the WHERE clause re-checks the full "still active" condition so two
// concurrent downloads cannot both take the last slot. RETURNING hands the
// post-increment count back so callers report exact per-download numbers.
func (r *PostgresRepository) ConditionalIncrementDownload(ctx context.Context, id string, now time.Time) (int64, bool, error) {
	query := `
		UPDATE file_records
		SET download_count = download_count + 1
		WHERE id = $1
		  AND NOT is_deleted
		  AND expires_at > $2
		  AND (max_downloads IS NULL OR download_count < max_downloads)
		RETURNING download_count
	`
	var count int64
	err := r.db.QueryRowContext(ctx, query, id, now).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("increment download count: %w", err)
	}
	return count, true, nil
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, id string) error {
	// Idempotent: zero rows affected just means already gone.
	_, err := r.db.ExecContext(ctx,
		`UPDATE file_records SET is_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkNotified(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE file_records SET notified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindExpired(ctx context.Context, before time.Time) ([]*models.FileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM file_records
		WHERE NOT is_deleted AND expires_at < $1`
	return r.scanMany(ctx, query, before)
}

func (r *PostgresRepository) FindExpiring(ctx context.Context, from, to time.Time) ([]*models.FileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM file_records
		WHERE NOT is_deleted AND NOT notified AND expires_at >= $1 AND expires_at < $2`
	return r.scanMany(ctx, query, from, to)
}

func (r *PostgresRepository) Close() error {
	if r.owned != nil {
		return r.owned.Close()
	}
	return nil
}

func (r *PostgresRepository) scanMany(ctx context.Context, query string, args ...any) ([]*models.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select file records: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.FileRecord, error) {
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("select file record: %w", err)
	}
	return rec, nil
}

func scanRecord(scan func(dest ...any) error) (*models.FileRecord, error) {
	var rec models.FileRecord
	var maxDownloads sql.NullInt64
	err := scan(
		&rec.ID, &rec.ShortURL, &rec.EncryptedSize, &rec.Algorithm, &rec.IV, &rec.Salt, &rec.Iterations,
		&rec.ContentCategory, &rec.PasswordHash, &rec.CreatedAt, &rec.ExpiresAt,
		&maxDownloads, &rec.DownloadCount, &rec.IsDeleted, &rec.Notified, &rec.BlobRef)
	if err != nil {
		return nil, err
	}
	if maxDownloads.Valid {
		rec.MaxDownloads = &maxDownloads.Int64
	}
	return &rec, nil
}
