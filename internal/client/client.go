// Package client is the Go client for the CipherDrop HTTP API. It also
// bundles the zero-knowledge convenience flows: encrypt-then-upload and
// download-then-decrypt, with all key derivation on this side of the wire.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/cryptox"
)

const requestTimeout = 60 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// UploadOptions are the user-chosen knobs for an upload.
type UploadOptions struct {
	// ServerPassword gates the download endpoint. Empty means no gate.
	ServerPassword string
	TTLHours       int
	MaxDownloads   *int64
	OriginalName   string
	OriginalType   string
}

type UploadResult struct {
	FileID              string    `json:"fileId"`
	ShareURL            string    `json:"shareUrl"`
	ExpiresAt           time.Time `json:"expiresAt"`
	MaxDownloads        *int64    `json:"maxDownloads"`
	Size                int64     `json:"size"`
	IsPasswordProtected bool      `json:"isPasswordProtected"`
}

type uploadPayload struct {
	EncryptedData string `json:"encryptedData"`
	Metadata      struct {
		Size       int64  `json:"size"`
		Algorithm  string `json:"algorithm"`
		IV         string `json:"iv"`
		Salt       string `json:"salt"`
		Iterations int    `json:"iterations"`
	} `json:"metadata"`
	UserOptions struct {
		Password     string `json:"password,omitempty"`
		TTLHours     int    `json:"ttlHours,omitempty"`
		MaxDownloads *int64 `json:"maxDownloads,omitempty"`
		OriginalName string `json:"originalName,omitempty"`
		OriginalType string `json:"originalType,omitempty"`
	} `json:"userOptions"`
}

// Upload sends an already-sealed envelope to the server.
func (c *Client) Upload(ctx context.Context, env *cryptox.Envelope, opts UploadOptions) (*UploadResult, error) {
	var payload uploadPayload
	payload.EncryptedData = base64.StdEncoding.EncodeToString(env.Ciphertext)
	payload.Metadata.Size = int64(len(env.Ciphertext))
	payload.Metadata.Algorithm = env.Algorithm
	payload.Metadata.IV = base64.StdEncoding.EncodeToString(env.IV)
	payload.Metadata.Salt = base64.StdEncoding.EncodeToString(env.Salt)
	payload.Metadata.Iterations = env.Iterations
	payload.UserOptions.Password = opts.ServerPassword
	payload.UserOptions.TTLHours = opts.TTLHours
	payload.UserOptions.MaxDownloads = opts.MaxDownloads
	payload.UserOptions.OriginalName = opts.OriginalName
	payload.UserOptions.OriginalType = opts.OriginalType

	var res UploadResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/files", payload, "", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type DownloadResult struct {
	FileID             string    `json:"fileId"`
	EncryptedBlob      string    `json:"encryptedBlob"`
	IV                 string    `json:"iv"`
	Size               int64     `json:"size"`
	ExpiresAt          time.Time `json:"expiresAt"`
	RemainingDownloads *int64    `json:"remainingDownloads"`
	DownloadCount      int64     `json:"downloadCount"`
}

// Download consumes one download slot and returns the raw envelope data.
func (c *Client) Download(ctx context.Context, ref, serverPassword string) (*DownloadResult, error) {
	body := map[string]string{}
	if serverPassword != "" {
		body["password"] = serverPassword
	}
	var res DownloadResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/files/"+ref+"/download", body, "", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type ZKMetadata struct {
	Algorithm       string    `json:"algorithm"`
	IV              string    `json:"iv"`
	Salt            string    `json:"salt"`
	Iterations      int       `json:"iterations"`
	ContentCategory string    `json:"contentCategory"`
	UploadTimestamp time.Time `json:"uploadTimestamp"`
}

type FileInfo struct {
	FileID              string     `json:"fileId"`
	Size                int64      `json:"size"`
	ZKMetadata          ZKMetadata `json:"zkMetadata"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	IsExpired           bool       `json:"isExpired"`
	IsPasswordProtected bool       `json:"isPasswordProtected"`
	DownloadCount       int64      `json:"downloadCount"`
	RemainingDownloads  *int64     `json:"remainingDownloads"`
}

// Info fetches public metadata without consuming a download slot.
func (c *Client) Info(ctx context.Context, ref string) (*FileInfo, error) {
	var res FileInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/files/"+ref, nil, "", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Delete removes a file through the admin endpoint.
func (c *Client) Delete(ctx context.Context, id, adminToken string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/files/"+id, nil, adminToken, nil)
}

// EncryptAndUpload seals plaintext under password and uploads the
// envelope. When protect is true the same password additionally gates the
// download endpoint server-side.
func (c *Client) EncryptAndUpload(ctx context.Context, plaintext, password []byte, protect bool, opts UploadOptions) (*UploadResult, error) {
	env, err := cryptox.Seal(plaintext, password, cryptox.DefaultIterations)
	if err != nil {
		return nil, err
	}
	if protect {
		opts.ServerPassword = string(password)
	}
	return c.Upload(ctx, env, opts)
}

// DownloadAndDecrypt fetches the envelope and opens it locally. The
// serverPassword is only sent when the file is download-gated; the
// decryption password never leaves this process.
func (c *Client) DownloadAndDecrypt(ctx context.Context, ref string, password []byte, serverPassword string) ([]byte, error) {
	info, err := c.Info(ctx, ref)
	if err != nil {
		return nil, err
	}

	dl, err := c.Download(ctx, ref, serverPassword)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(dl.EncryptedBlob)
	if err != nil {
		return nil, fmt.Errorf("decoding blob: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(dl.IV)
	if err != nil {
		return nil, fmt.Errorf("decoding iv: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(info.ZKMetadata.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}

	return cryptox.Open(&cryptox.Envelope{
		Ciphertext: ciphertext,
		IV:         iv,
		Salt:       salt,
		Iterations: info.ZKMetadata.Iterations,
		Algorithm:  info.ZKMetadata.Algorithm,
	}, password)
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorForCode maps wire error codes back to the shared sentinels so
// callers can branch with errors.Is.
func errorForCode(code, message string) error {
	var sentinel error
	switch code {
	case "NotFound":
		sentinel = common.ErrNotFound
	case "Expired":
		sentinel = common.ErrFileExpired
	case "Forbidden":
		sentinel = common.ErrDownloadLimitReached
	case "Unauthorized":
		sentinel = common.ErrInvalidPassword
	case "InvalidEnvelope":
		sentinel = common.ErrInvalidEnvelope
	case "SizeMismatch":
		sentinel = common.ErrSizeMismatch
	case "StorageFailure":
		sentinel = common.ErrStorageFailure
	default:
		sentinel = common.ErrInternal
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error.Code == "" {
			return fmt.Errorf("%w: unexpected status %d", common.ErrInternal, resp.StatusCode)
		}
		return errorForCode(apiErr.Error.Code, apiErr.Error.Message)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
