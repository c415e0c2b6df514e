// Package models defines the server-side data model. The central entity is
// FileRecord: metadata for one encrypted blob. The record carries only
// public envelope parameters, never key material or plaintext.
package models

import (
	"strings"
	"time"
)

// FileRecord is the persisted metadata for one uploaded ciphertext blob.
//
// Core fields are immutable after upload. DownloadCount is mutated only by
// the download path (through the store's conditional increment), IsDeleted
// and Notified only by the retention sweeper or an explicit admin delete.
type FileRecord struct {
	// ID is the internal, server-generated identifier (UUID).
	ID string
	// ShortURL is the public token embedded in share links. It is distinct
	// from ID so the internal identifier never leaves the server logs.
	ShortURL string

	// EncryptedSize is the ciphertext length in bytes. It always equals the
	// stored blob's length; the upload path rejects mismatches.
	EncryptedSize int64

	// Public envelope parameters (zero-knowledge metadata). IV and Salt are
	// base64-encoded as received from the client.
	Algorithm  string
	IV         string
	Salt       string
	Iterations int

	// ContentCategory is a coarse media class ("image", "video", ...)
	// derived from the declared content type at upload. The exact type and
	// original filename are discarded.
	ContentCategory string

	// PasswordHash is a bcrypt hash of the optional access password, or ""
	// when the file is not password protected. The password also feeds
	// client-side key derivation; server-side it is presence/equality only.
	PasswordHash string

	CreatedAt time.Time
	ExpiresAt time.Time

	// MaxDownloads caps successful downloads. nil means unlimited; no code
	// path ever substitutes a finite default.
	MaxDownloads  *int64
	DownloadCount int64

	// IsDeleted is the only persisted terminal marker. Soft-deleted records
	// are invisible to the upload/download/info read paths.
	IsDeleted bool

	// Notified marks that a pre-expiry notification has been emitted,
	// so the sweeper does not notify the same file twice.
	Notified bool

	// BlobRef is the opaque reference into the blob store.
	BlobRef string
}

// IsPasswordProtected reports whether a password gate is set.
func (f *FileRecord) IsPasswordProtected() bool {
	return f.PasswordHash != ""
}

// RemainingDownloads returns how many downloads are left, or nil when
// unlimited. Never negative.
func (f *FileRecord) RemainingDownloads() *int64 {
	if f.MaxDownloads == nil {
		return nil
	}
	left := *f.MaxDownloads - f.DownloadCount
	if left < 0 {
		left = 0
	}
	return &left
}

// ContentCategoryFor maps a declared MIME type to the coarse category that
// is safe to store. Everything unrecognized collapses into "other".
func ContentCategoryFor(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return "image"
	case strings.HasPrefix(mediaType, "video/"):
		return "video"
	case strings.HasPrefix(mediaType, "audio/"):
		return "audio"
	case strings.HasPrefix(mediaType, "text/"):
		return "text"
	case mediaType == "application/pdf",
		strings.HasSuffix(mediaType, "ms-word"),
		strings.HasSuffix(mediaType, "wordprocessingml.document"),
		strings.HasSuffix(mediaType, "spreadsheetml.sheet"),
		strings.HasSuffix(mediaType, "ms-excel"):
		return "document"
	case mediaType == "application/zip",
		mediaType == "application/gzip",
		mediaType == "application/x-tar",
		mediaType == "application/x-7z-compressed":
		return "archive"
	default:
		return "other"
	}
}
