// Package services implements the upload, download and info protocols of
// the file lifecycle engine. The service is a dumb authorized byte pump:
// it validates envelope structure and lifecycle gates, never content.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/logging"
	"github.com/cipherdrop/cipherdrop/internal/server/blob"
	"github.com/cipherdrop/cipherdrop/internal/server/models"
	"github.com/cipherdrop/cipherdrop/internal/server/repositories/records"
	"github.com/cipherdrop/cipherdrop/internal/timex"
)

const (
	// DefaultTTLHours applies when the uploader does not choose a retention.
	DefaultTTLHours = 24
	// MinTTLHours / MaxTTLHours bound the retention window (1h to 30 days).
	MinTTLHours = 1
	MaxTTLHours = 720

	// MinMaxDownloads / MaxMaxDownloads bound an explicit download cap.
	// An absent cap means unlimited.
	MinMaxDownloads = 1
	MaxMaxDownloads = 1000

	// shortURLBytes sizes the public token (hex-encoded to twice this).
	shortURLBytes = 8

	// maxInsertAttempts bounds id/token collision retries.
	maxInsertAttempts = 5
)

func newFileID() string {
	return uuid.NewString()
}

// ExpiryChecker lets read paths trigger synchronous cleanup for records
// they discover expired outside the sweep cadence.
type ExpiryChecker interface {
	InstantCheck(ctx context.Context, fileID string) error
}

type FileService struct {
	records records.Repository
	blobs   blob.Store
	checker ExpiryChecker
	logger  logging.Logger
	clock   timex.Clock

	newID    func() string
	newToken func() (string, error)
}

// NewFileService wires the protocol layer. checker may be nil (expired
// records are then cleaned only by the periodic sweeper).
func NewFileService(rc records.Repository, bs blob.Store, checker ExpiryChecker, logger logging.Logger, clock timex.Clock) *FileService {
	return &FileService{
		records:  rc,
		blobs:    bs,
		checker:  checker,
		logger:   logger.With("module", "files"),
		clock:    clock,
		newID:    newFileID,
		newToken: func() (string, error) { return common.MakeRandHexString(shortURLBytes) },
	}
}

// UploadRequest carries an already-encrypted payload plus its public
// envelope parameters. Data is the decoded ciphertext.
type UploadRequest struct {
	Data         []byte
	DeclaredSize int64

	Algorithm  string
	IV         string
	Salt       string
	Iterations int

	Password     string
	TTLHours     int
	MaxDownloads *int64
	ContentType  string
}

type UploadResult struct {
	FileID              string
	ShortURL            string
	ExpiresAt           time.Time
	MaxDownloads        *int64
	IsPasswordProtected bool
	Size                int64
}

// Upload validates the envelope, persists blob then metadata, and returns
// the share token. If the metadata write fails after the blob write, the
// orphaned blob is deleted best-effort.
func (s *FileService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if req.Algorithm == "" || req.IV == "" || req.Salt == "" || req.Iterations <= 0 || len(req.Data) == 0 {
		return nil, common.ErrInvalidEnvelope
	}
	if req.DeclaredSize != int64(len(req.Data)) {
		return nil, common.ErrSizeMismatch
	}

	ttlHours := req.TTLHours
	if ttlHours == 0 {
		ttlHours = DefaultTTLHours
	}
	if ttlHours < MinTTLHours {
		ttlHours = MinTTLHours
	}
	if ttlHours > MaxTTLHours {
		ttlHours = MaxTTLHours
	}

	maxDownloads := req.MaxDownloads
	if maxDownloads != nil {
		v := *maxDownloads
		if v < MinMaxDownloads {
			v = MinMaxDownloads
		}
		if v > MaxMaxDownloads {
			v = MaxMaxDownloads
		}
		maxDownloads = &v
	}

	passwordHash := ""
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, errors.Join(common.ErrInternal, err)
		}
		passwordHash = string(hash)
	}

	now := s.clock.Now().UTC()
	expiresAt := now.Add(time.Duration(ttlHours) * time.Hour)

	blobRef, err := s.blobs.Save(ctx, req.Data)
	if err != nil {
		return nil, errors.Join(common.ErrStorageFailure, err)
	}

	rec, err := s.insertWithFreshIdentifiers(ctx, &models.FileRecord{
		EncryptedSize:   int64(len(req.Data)),
		Algorithm:       req.Algorithm,
		IV:              req.IV,
		Salt:            req.Salt,
		Iterations:      req.Iterations,
		ContentCategory: models.ContentCategoryFor(req.ContentType),
		PasswordHash:    passwordHash,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		MaxDownloads:    maxDownloads,
		BlobRef:         blobRef,
	})
	if err != nil {
		// Compensating action: do not leave an orphaned blob behind.
		// Failure to compensate is logged, not escalated.
		if delErr := s.blobs.Delete(ctx, blobRef); delErr != nil {
			s.logger.Warn(ctx, "failed to delete orphaned blob", "blob_ref", blobRef, "error", delErr)
		}
		return nil, err
	}

	s.logger.Info(ctx, "file uploaded",
		"file_id", rec.ID, "size", rec.EncryptedSize,
		"expires_at", rec.ExpiresAt, "password_protected", rec.IsPasswordProtected())

	return &UploadResult{
		FileID:              rec.ID,
		ShortURL:            rec.ShortURL,
		ExpiresAt:           rec.ExpiresAt,
		MaxDownloads:        rec.MaxDownloads,
		IsPasswordProtected: rec.IsPasswordProtected(),
		Size:                rec.EncryptedSize,
	}, nil
}

// insertWithFreshIdentifiers retries inserts with newly generated id and
// token pairs until the store accepts them or attempts run out.
func (s *FileService) insertWithFreshIdentifiers(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, errors.Join(common.ErrInternal, err)
		}
		rec.ID = s.newID()
		rec.ShortURL = token

		err = s.records.Insert(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, common.ErrAlreadyExists) {
			s.logger.Warn(ctx, "identifier collision on insert, retrying", "attempt", attempt+1)
			continue
		}
		return nil, errors.Join(common.ErrStorageFailure, err)
	}
	return nil, errors.Join(common.ErrStorageFailure, errors.New("identifier collision attempts exhausted"))
}

type DownloadResult struct {
	FileID             string
	Data               []byte
	IV                 string
	Size               int64
	ExpiresAt          time.Time
	DownloadCount      int64
	RemainingDownloads *int64
}

// Download authorizes and serves one download. The download slot is taken
// by a single conditional write at the store; increment-then-read ordering
// means an aborted transfer costs at most one quota slot, never an
// uncounted download.
func (s *FileService) Download(ctx context.Context, ref, password string) (*DownloadResult, error) {
	rec, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	switch rec.State(now) {
	case models.StateExpired:
		s.instantCheck(ctx, rec.ID)
		return nil, common.ErrFileExpired
	case models.StateExhausted:
		return nil, common.ErrDownloadLimitReached
	}

	if rec.IsPasswordProtected() {
		if password == "" {
			return nil, common.ErrPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
			return nil, common.ErrInvalidPassword
		}
	}

	downloadCount, ok, err := s.records.ConditionalIncrementDownload(ctx, rec.ID, now)
	if err != nil {
		return nil, errors.Join(common.ErrStorageFailure, err)
	}
	if !ok {
		// Lost the race for the last slot (or expired in between).
		return nil, common.ErrDownloadLimitReached
	}

	data, err := s.blobs.Read(ctx, rec.BlobRef)
	if err != nil {
		// The record was active, so a missing blob is an infrastructure
		// problem, not a lifecycle state.
		return nil, errors.Join(common.ErrStorageFailure, err)
	}

	var remaining *int64
	if rec.MaxDownloads != nil {
		left := *rec.MaxDownloads - downloadCount
		if left < 0 {
			left = 0
		}
		remaining = &left
	}

	s.logger.Info(ctx, "file downloaded",
		"file_id", rec.ID, "download_count", downloadCount)

	return &DownloadResult{
		FileID:             rec.ID,
		Data:               data,
		IV:                 rec.IV,
		Size:               rec.EncryptedSize,
		ExpiresAt:          rec.ExpiresAt,
		DownloadCount:      downloadCount,
		RemainingDownloads: remaining,
	}, nil
}

// FileInfo is the public, key-free view of a record used for client-side
// pre-decryption setup.
type FileInfo struct {
	FileID              string
	Size                int64
	Algorithm           string
	IV                  string
	Salt                string
	Iterations          int
	ContentCategory     string
	UploadTimestamp     time.Time
	ExpiresAt           time.Time
	IsExpired           bool
	IsPasswordProtected bool
	DownloadCount       int64
	RemainingDownloads  *int64
}

// Info returns public metadata without touching the download counter.
// Discovering an expired record here triggers the synchronous instant
// check so the stale record cannot be probed twice.
func (s *FileService) Info(ctx context.Context, ref string) (*FileInfo, error) {
	rec, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	isExpired := rec.State(now) == models.StateExpired
	if isExpired {
		s.instantCheck(ctx, rec.ID)
	}

	return &FileInfo{
		FileID:              rec.ID,
		Size:                rec.EncryptedSize,
		Algorithm:           rec.Algorithm,
		IV:                  rec.IV,
		Salt:                rec.Salt,
		Iterations:          rec.Iterations,
		ContentCategory:     rec.ContentCategory,
		UploadTimestamp:     rec.CreatedAt,
		ExpiresAt:           rec.ExpiresAt,
		IsExpired:           isExpired,
		IsPasswordProtected: rec.IsPasswordProtected(),
		DownloadCount:       rec.DownloadCount,
		RemainingDownloads:  rec.RemainingDownloads(),
	}, nil
}

// Delete is the explicit admin delete: soft-delete the record, then remove
// the blob best-effort (the sweeper retries blob deletion if this fails).
func (s *FileService) Delete(ctx context.Context, id string) error {
	rec, err := s.records.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.records.MarkDeleted(ctx, rec.ID); err != nil {
		return errors.Join(common.ErrStorageFailure, err)
	}
	if err := s.blobs.Delete(ctx, rec.BlobRef); err != nil {
		s.logger.Warn(ctx, "blob delete failed, sweeper will retry", "file_id", rec.ID, "error", err)
	}
	s.logger.Info(ctx, "file deleted by admin", "file_id", rec.ID)
	return nil
}

// resolve looks a record up by internal id first, then by public token.
func (s *FileService) resolve(ctx context.Context, ref string) (*models.FileRecord, error) {
	rec, err := s.records.FindByID(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, errors.Join(common.ErrStorageFailure, err)
	}
	rec, err = s.records.FindByShortURL(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, errors.Join(common.ErrStorageFailure, err)
	}
	return nil, common.ErrNotFound
}

func (s *FileService) instantCheck(ctx context.Context, id string) {
	if s.checker == nil {
		return
	}
	if err := s.checker.InstantCheck(ctx, id); err != nil {
		s.logger.Warn(ctx, "instant expiry check failed", "file_id", id, "error", err)
	}
}
