package records

import (
	"context"
	"sync"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/server/models"
)

// MemoryRepository is an in-memory record store used by tests and local
// development. All operations run under one mutex, which trivially gives
// the same atomicity the SQL conditional update provides.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.FileRecord
	byToken map[string]string
}

func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*models.FileRecord),
		byToken: make(map[string]string),
	}
}

func (r *MemoryRepository) Insert(_ context.Context, rec *models.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[rec.ID]; ok {
		return common.ErrAlreadyExists
	}
	if _, ok := r.byToken[rec.ShortURL]; ok {
		return common.ErrAlreadyExists
	}

	clone := *rec
	r.byID[rec.ID] = &clone
	r.byToken[rec.ShortURL] = rec.ID
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *MemoryRepository) FindByShortURL(_ context.Context, token string) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	return r.getLocked(id)
}

func (r *MemoryRepository) ConditionalIncrementDownload(_ context.Context, id string, now time.Time) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok || rec.State(now) != models.StateActive {
		return 0, false, nil
	}
	rec.DownloadCount++
	return rec.DownloadCount, true, nil
}

func (r *MemoryRepository) MarkDeleted(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byID[id]; ok {
		rec.IsDeleted = true
	}
	return nil
}

func (r *MemoryRepository) MarkNotified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byID[id]; ok {
		rec.Notified = true
	}
	return nil
}

func (r *MemoryRepository) FindExpired(_ context.Context, before time.Time) ([]*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.FileRecord
	for _, rec := range r.byID {
		if !rec.IsDeleted && rec.ExpiresAt.Before(before) {
			clone := *rec
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *MemoryRepository) FindExpiring(_ context.Context, from, to time.Time) ([]*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.FileRecord
	for _, rec := range r.byID {
		if rec.IsDeleted || rec.Notified {
			continue
		}
		if !rec.ExpiresAt.Before(from) && rec.ExpiresAt.Before(to) {
			clone := *rec
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *MemoryRepository) Close() error { return nil }

// getLocked returns a copy so callers cannot mutate shared state.
func (r *MemoryRepository) getLocked(id string) (*models.FileRecord, error) {
	rec, ok := r.byID[id]
	if !ok || rec.IsDeleted {
		return nil, common.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}
