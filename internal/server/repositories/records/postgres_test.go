package records

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgres(db), mock, db
}

var recordRows = []string{
	"id", "short_url", "encrypted_size", "algorithm", "iv", "salt", "iterations",
	"content_category", "password_hash", "created_at", "expires_at",
	"max_downloads", "download_count", "is_deleted", "notified", "blob_ref",
}

func mockRecordRow(rec *models.FileRecord) *sqlmock.Rows {
	var maxDownloads any
	if rec.MaxDownloads != nil {
		maxDownloads = *rec.MaxDownloads
	}
	return sqlmock.NewRows(recordRows).AddRow(
		rec.ID, rec.ShortURL, rec.EncryptedSize, rec.Algorithm, rec.IV, rec.Salt, rec.Iterations,
		rec.ContentCategory, rec.PasswordHash, rec.CreatedAt, rec.ExpiresAt,
		maxDownloads, rec.DownloadCount, rec.IsDeleted, rec.Notified, rec.BlobRef,
	)
}

func TestPostgresInsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+file_records\b.*VALUES\b`
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := testRecord("id-1", "tok-1", time.Now().Add(time.Hour))
	if err := repo.Insert(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresInsert_UniqueViolation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+file_records`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := repo.Insert(context.Background(), testRecord("id-1", "tok-1", time.Now().Add(time.Hour)))
	if !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestPostgresInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+file_records`).
		WillReturnError(errors.New("db down"))

	err := repo.Insert(context.Background(), testRecord("id-1", "tok-1", time.Now().Add(time.Hour)))
	if err == nil || errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("want wrapped db error, got %v", err)
	}
}

func TestPostgresFindByID_ExcludesDeleted(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+.*FROM\s+file_records\s+WHERE\s+id=\$1\s+AND\s+NOT\s+is_deleted`
	rec := testRecord("id-1", "tok-1", time.Now().Add(time.Hour))
	mock.ExpectQuery(q).WithArgs("id-1").WillReturnRows(mockRecordRow(rec))

	got, err := repo.FindByID(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ShortURL != "tok-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresFindByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+.*FROM\s+file_records`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresFindByShortURL_NullMaxDownloads(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rec := testRecord("id-1", "tok-1", time.Now().Add(time.Hour))
	mock.ExpectQuery(`(?s)SELECT\s+.*FROM\s+file_records\s+WHERE\s+short_url=\$1\s+AND\s+NOT\s+is_deleted`).
		WithArgs("tok-1").
		WillReturnRows(mockRecordRow(rec))

	got, err := repo.FindByShortURL(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.MaxDownloads != nil {
		t.Fatalf("want nil maxDownloads (unlimited), got %v", *got.MaxDownloads)
	}
}

func TestPostgresConditionalIncrement(t *testing.T) {
	q := `(?s)^\s*UPDATE\s+file_records\s+SET\s+download_count\s*=\s*download_count\s*\+\s*1\s+` +
		`WHERE\s+id\s*=\s*\$1\s+AND\s+NOT\s+is_deleted\s+AND\s+expires_at\s*>\s*\$2\s+` +
		`AND\s+\(max_downloads\s+IS\s+NULL\s+OR\s+download_count\s*<\s*max_downloads\)\s+` +
		`RETURNING\s+download_count`

	tests := []struct {
		name      string
		rows      *sqlmock.Rows
		wantOK    bool
		wantCount int64
	}{
		{"slot taken", sqlmock.NewRows([]string{"download_count"}).AddRow(int64(3)), true, 3},
		{"precondition failed", sqlmock.NewRows([]string{"download_count"}), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			now := time.Now()
			mock.ExpectQuery(q).
				WithArgs("id-1", now).
				WillReturnRows(tt.rows)

			count, ok, err := repo.ConditionalIncrementDownload(context.Background(), "id-1", now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("want ok=%v, got %v", tt.wantOK, ok)
			}
			if count != tt.wantCount {
				t.Fatalf("want count=%d, got %d", tt.wantCount, count)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgresMarkDeleted_IdempotentOnZeroRows(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+file_records\s+SET\s+is_deleted\s*=\s*TRUE`).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkDeleted(context.Background(), "id-1"); err != nil {
		t.Fatalf("re-marking a deleted record must be a no-op, got %v", err)
	}
}

func TestPostgresFindExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	a := testRecord("id-1", "tok-1", now.Add(-2*time.Hour))
	b := testRecord("id-2", "tok-2", now.Add(-time.Hour))
	rows := mockRecordRow(a).AddRow(
		b.ID, b.ShortURL, b.EncryptedSize, b.Algorithm, b.IV, b.Salt, b.Iterations,
		b.ContentCategory, b.PasswordHash, b.CreatedAt, b.ExpiresAt,
		nil, b.DownloadCount, b.IsDeleted, b.Notified, b.BlobRef,
	)

	mock.ExpectQuery(`(?s)SELECT\s+.*FROM\s+file_records\s+WHERE\s+NOT\s+is_deleted\s+AND\s+expires_at\s*<\s*\$1`).
		WithArgs(now).
		WillReturnRows(rows)

	got, err := repo.FindExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 expired records, got %d", len(got))
	}
}

func TestPostgresFindExpiring(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	from := time.Now()
	to := from.Add(24 * time.Hour)
	rec := testRecord("id-1", "tok-1", from.Add(time.Hour))

	mock.ExpectQuery(`(?s)SELECT\s+.*FROM\s+file_records\s+WHERE\s+NOT\s+is_deleted\s+AND\s+NOT\s+notified\s+AND\s+expires_at\s*>=\s*\$1\s+AND\s+expires_at\s*<\s*\$2`).
		WithArgs(from, to).
		WillReturnRows(mockRecordRow(rec))

	got, err := repo.FindExpiring(context.Background(), from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "id-1" {
		t.Fatalf("unexpected result: %+v", got)
	}
}
