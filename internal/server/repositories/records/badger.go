package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/server/models"
)

// Key schema:
//
//	rec:<id>     -> JSON-encoded FileRecord
//	url:<token>  -> <id>
const (
	recPrefix = "rec:"
	urlPrefix = "url:"
)

// BadgerRepository is an embedded record store backed by BadgerDB, for
// single-binary deployments that do not want to run PostgreSQL. Badger's
// optimistic transactions give the conditional download increment the same
// lost-update protection the SQL UPDATE predicate provides; conflicting
// increments are retried.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadger opens (or creates) a Badger database at dir.
func NewBadger(dir string) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &BadgerRepository{db: db}, nil
}

func recKey(id string) []byte    { return []byte(recPrefix + id) }
func urlKey(token string) []byte { return []byte(urlPrefix + token) }

func (r *BadgerRepository) Insert(_ context.Context, rec *models.FileRecord) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recKey(rec.ID)); err == nil {
			return common.ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(urlKey(rec.ShortURL)); err == nil {
			return common.ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(recKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(urlKey(rec.ShortURL), []byte(rec.ID))
	})
}

func (r *BadgerRepository) FindByID(_ context.Context, id string) (*models.FileRecord, error) {
	var rec *models.FileRecord
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, common.ErrNotFound
	}
	return rec, nil
}

func (r *BadgerRepository) FindByShortURL(_ context.Context, token string) (*models.FileRecord, error) {
	var rec *models.FileRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(urlKey(token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return common.ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err = getRecord(txn, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, common.ErrNotFound
	}
	return rec, nil
}

func (r *BadgerRepository) ConditionalIncrementDownload(_ context.Context, id string, now time.Time) (int64, bool, error) {
	for {
		var count int64
		ok := false
		err := r.db.Update(func(txn *badger.Txn) error {
			rec, err := getRecord(txn, id)
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if rec.State(now) != models.StateActive {
				return nil
			}
			rec.DownloadCount++
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(recKey(id), data); err != nil {
				return err
			}
			count = rec.DownloadCount
			ok = true
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return count, ok, err
	}
}

func (r *BadgerRepository) MarkDeleted(ctx context.Context, id string) error {
	return r.mutate(ctx, id, func(rec *models.FileRecord) { rec.IsDeleted = true })
}

func (r *BadgerRepository) MarkNotified(ctx context.Context, id string) error {
	return r.mutate(ctx, id, func(rec *models.FileRecord) { rec.Notified = true })
}

func (r *BadgerRepository) FindExpired(_ context.Context, before time.Time) ([]*models.FileRecord, error) {
	return r.scan(func(rec *models.FileRecord) bool {
		return !rec.IsDeleted && rec.ExpiresAt.Before(before)
	})
}

func (r *BadgerRepository) FindExpiring(_ context.Context, from, to time.Time) ([]*models.FileRecord, error) {
	return r.scan(func(rec *models.FileRecord) bool {
		return !rec.IsDeleted && !rec.Notified &&
			!rec.ExpiresAt.Before(from) && rec.ExpiresAt.Before(to)
	})
}

func (r *BadgerRepository) Close() error { return r.db.Close() }

func (r *BadgerRepository) mutate(_ context.Context, id string, apply func(*models.FileRecord)) error {
	for {
		err := r.db.Update(func(txn *badger.Txn) error {
			rec, err := getRecord(txn, id)
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			apply(rec)
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return txn.Set(recKey(id), data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

func (r *BadgerRepository) scan(keep func(*models.FileRecord) bool) ([]*models.FileRecord, error) {
	var result []*models.FileRecord
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.FileRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if keep(&rec) {
				clone := rec
				result = append(result, &clone)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func getRecord(txn *badger.Txn, id string) (*models.FileRecord, error) {
	item, err := txn.Get(recKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec models.FileRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}
