package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/server/services"
)

type uploadMetadata struct {
	Size       int64  `json:"size"`
	Algorithm  string `json:"algorithm"`
	IV         string `json:"iv"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

type uploadOptions struct {
	Password     string `json:"password,omitempty"`
	TTLHours     int    `json:"ttlHours,omitempty"`
	MaxDownloads *int64 `json:"maxDownloads,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
	OriginalType string `json:"originalType,omitempty"`
}

type uploadRequest struct {
	EncryptedData string         `json:"encryptedData"`
	Metadata      uploadMetadata `json:"metadata"`
	UserOptions   uploadOptions  `json:"userOptions"`
}

type uploadResponse struct {
	FileID              string    `json:"fileId"`
	ShareURL            string    `json:"shareUrl"`
	ExpiresAt           time.Time `json:"expiresAt"`
	MaxDownloads        *int64    `json:"maxDownloads"`
	Size                int64     `json:"size"`
	IsPasswordProtected bool      `json:"isPasswordProtected"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, "TooLarge", "request body exceeds upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		s.jsonError(w, "BadRequest", "invalid request body", http.StatusBadRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.EncryptedData)
	if err != nil {
		s.jsonError(w, "BadRequest", "encryptedData is not valid base64", http.StatusBadRequest)
		return
	}

	// originalName is deliberately dropped: the server keeps no plaintext
	// identifying metadata, only the coarse content category.
	res, err := s.files.Upload(r.Context(), &services.UploadRequest{
		Data:         data,
		DeclaredSize: req.Metadata.Size,
		Algorithm:    req.Metadata.Algorithm,
		IV:           req.Metadata.IV,
		Salt:         req.Metadata.Salt,
		Iterations:   req.Metadata.Iterations,
		Password:     req.UserOptions.Password,
		TTLHours:     req.UserOptions.TTLHours,
		MaxDownloads: req.UserOptions.MaxDownloads,
		ContentType:  req.UserOptions.OriginalType,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.Uploads.Inc()
		s.metrics.UploadBytes.Add(float64(res.Size))
	}

	s.writeJSON(w, http.StatusCreated, uploadResponse{
		FileID:              res.FileID,
		ShareURL:            s.publicBaseURL + "/api/v1/files/" + res.ShortURL,
		ExpiresAt:           res.ExpiresAt,
		MaxDownloads:        res.MaxDownloads,
		Size:                res.Size,
		IsPasswordProtected: res.IsPasswordProtected,
	})
}

type downloadRequest struct {
	Password string `json:"password,omitempty"`
}

type downloadResponse struct {
	FileID             string    `json:"fileId"`
	EncryptedBlob      string    `json:"encryptedBlob"`
	IV                 string    `json:"iv"`
	Size               int64     `json:"size"`
	ExpiresAt          time.Time `json:"expiresAt"`
	RemainingDownloads *int64    `json:"remainingDownloads"`
	DownloadCount      int64     `json:"downloadCount"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.jsonError(w, "BadRequest", "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.files.Download(r.Context(), r.PathValue("ref"), req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.Downloads.Inc()
		s.metrics.DownloadBytes.Add(float64(res.Size))
	}

	s.writeJSON(w, http.StatusOK, downloadResponse{
		FileID:             res.FileID,
		EncryptedBlob:      base64.StdEncoding.EncodeToString(res.Data),
		IV:                 res.IV,
		Size:               res.Size,
		ExpiresAt:          res.ExpiresAt,
		RemainingDownloads: res.RemainingDownloads,
		DownloadCount:      res.DownloadCount,
	})
}

type zkMetadata struct {
	Algorithm       string    `json:"algorithm"`
	IV              string    `json:"iv"`
	Salt            string    `json:"salt"`
	Iterations      int       `json:"iterations"`
	ContentCategory string    `json:"contentCategory"`
	UploadTimestamp time.Time `json:"uploadTimestamp"`
}

type infoResponse struct {
	FileID              string     `json:"fileId"`
	Size                int64      `json:"size"`
	ZKMetadata          zkMetadata `json:"zkMetadata"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	IsExpired           bool       `json:"isExpired"`
	IsPasswordProtected bool       `json:"isPasswordProtected"`
	DownloadCount       int64      `json:"downloadCount"`
	RemainingDownloads  *int64     `json:"remainingDownloads"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.files.Info(r.Context(), r.PathValue("ref"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, infoResponse{
		FileID: info.FileID,
		Size:   info.Size,
		ZKMetadata: zkMetadata{
			Algorithm:       info.Algorithm,
			IV:              info.IV,
			Salt:            info.Salt,
			Iterations:      info.Iterations,
			ContentCategory: info.ContentCategory,
			UploadTimestamp: info.UploadTimestamp,
		},
		ExpiresAt:           info.ExpiresAt,
		IsExpired:           info.IsExpired,
		IsPasswordProtected: info.IsPasswordProtected,
		DownloadCount:       info.DownloadCount,
		RemainingDownloads:  info.RemainingDownloads,
	})
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
