package models

import "time"

// State is the derived lifecycle state of a file record.
//
// Active → Expired | Exhausted → Deleted. State is computed on read from
// timestamps and counters; only the Deleted marker is persisted. Every read
// path must go through FileRecord.State so the interpretation of "expired"
// cannot drift between handlers.
type State int

const (
	StateActive State = iota
	StateExpired
	StateExhausted
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateExhausted:
		return "exhausted"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// State derives the lifecycle state at the given instant.
//
// Expiry is checked before exhaustion: a record that is both past its
// deadline and out of downloads reports Expired, so probes after the
// deadline see Expired even when the sweeper has not run yet.
func (f *FileRecord) State(now time.Time) State {
	if f.IsDeleted {
		return StateDeleted
	}
	if !now.Before(f.ExpiresAt) {
		return StateExpired
	}
	if f.MaxDownloads != nil && f.DownloadCount >= *f.MaxDownloads {
		return StateExhausted
	}
	return StateActive
}
