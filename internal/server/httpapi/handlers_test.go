package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherdrop/cipherdrop/internal/logging"
	"github.com/cipherdrop/cipherdrop/internal/server/auth"
	"github.com/cipherdrop/cipherdrop/internal/server/blob"
	"github.com/cipherdrop/cipherdrop/internal/server/repositories/records"
	"github.com/cipherdrop/cipherdrop/internal/server/services"
	"github.com/cipherdrop/cipherdrop/internal/timex"
)

const testAdminSecret = "test-admin-secret"

func newTestServer(t *testing.T) (*Server, *timex.FakeClock) {
	t.Helper()
	clock := &timex.FakeClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	files := services.NewFileService(records.NewMemory(), blob.NewMemory(), nil, logging.Discard(), clock)
	srv := New("127.0.0.1:0", "https://drop.example.com", 1<<20, []byte(testAdminSecret),
		files, logging.Discard(), prometheus.NewRegistry())
	return srv, clock
}

func uploadBody(t *testing.T, payload []byte, opts map[string]any) []byte {
	t.Helper()
	body := map[string]any{
		"encryptedData": base64.StdEncoding.EncodeToString(payload),
		"metadata": map[string]any{
			"size":       len(payload),
			"algorithm":  "AES-GCM",
			"iv":         "aXZpdml2aXZpdg==",
			"salt":       "c2FsdHNhbHRzYWx0c2E=",
			"iterations": 310000,
		},
		"userOptions": opts,
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func doRequest(srv *Server, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	payload := []byte("ciphertext-payload")

	rec := doRequest(srv, http.MethodPost, "/api/v1/files", uploadBody(t, payload, map[string]any{"ttlHours": 24}), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.NotEmpty(t, up.FileID)
	assert.Contains(t, up.ShareURL, "https://drop.example.com/api/v1/files/")
	assert.Equal(t, int64(len(payload)), up.Size)
	assert.Nil(t, up.MaxDownloads)

	token := up.ShareURL[len("https://drop.example.com/api/v1/files/"):]
	rec = doRequest(srv, http.MethodPost, "/api/v1/files/"+token+"/download", []byte(`{}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dl downloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dl))
	got, err := base64.StdEncoding.DecodeString(dl.EncryptedBlob)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(1), dl.DownloadCount)
	assert.Equal(t, "aXZpdml2aXZpdg==", dl.IV)
}

func TestUploadRejectsBadBodies(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/files", []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BadRequest", decodeError(t, rec))

	body := uploadBody(t, []byte("x"), nil)
	body = bytes.Replace(body, []byte(`"encryptedData":"`), []byte(`"encryptedData":"!!!`), 1)
	rec = doRequest(srv, http.MethodPost, "/api/v1/files", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadTaxonomyErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	// Declared size off by one.
	payload := []byte("abcdef")
	body := map[string]any{
		"encryptedData": base64.StdEncoding.EncodeToString(payload),
		"metadata": map[string]any{
			"size": 5, "algorithm": "AES-GCM", "iv": "aXY=", "salt": "c2FsdA==", "iterations": 310000,
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := doRequest(srv, http.MethodPost, "/api/v1/files", raw, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SizeMismatch", decodeError(t, rec))

	// Missing envelope fields.
	body["metadata"] = map[string]any{"size": 6, "iterations": 310000}
	raw, err = json.Marshal(body)
	require.NoError(t, err)
	rec = doRequest(srv, http.MethodPost, "/api/v1/files", raw, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidEnvelope", decodeError(t, rec))
}

func TestUploadTooLarge(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.maxUploadBytes = 64

	rec := doRequest(srv, http.MethodPost, "/api/v1/files", uploadBody(t, bytes.Repeat([]byte("a"), 256), nil), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "TooLarge", decodeError(t, rec))
}

func TestDownloadLifecycleStatusCodes(t *testing.T) {
	srv, clock := newTestServer(t)
	payload := []byte("payload")

	rec := doRequest(srv, http.MethodPost, "/api/v1/files",
		uploadBody(t, payload, map[string]any{"ttlHours": 1, "maxDownloads": 2}), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))

	path := "/api/v1/files/" + up.FileID + "/download"

	for i := 1; i <= 2; i++ {
		rec = doRequest(srv, http.MethodPost, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var dl downloadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dl))
		require.NotNil(t, dl.RemainingDownloads)
		assert.Equal(t, int64(2-i), *dl.RemainingDownloads)
	}

	rec = doRequest(srv, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", decodeError(t, rec))

	clock.Advance(2 * time.Hour)
	rec = doRequest(srv, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "Expired", decodeError(t, rec))

	rec = doRequest(srv, http.MethodPost, "/api/v1/files/unknown/download", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decodeError(t, rec))
}

func TestDownloadPasswordStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/files",
		uploadBody(t, []byte("secret"), map[string]any{"password": "hunter2"}), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.True(t, up.IsPasswordProtected)

	path := "/api/v1/files/" + up.FileID + "/download"

	rec = doRequest(srv, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, rec))

	rec = doRequest(srv, http.MethodPost, path, []byte(`{"password":"wrong"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(srv, http.MethodPost, path, []byte(`{"password":"hunter2"}`), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInfoEndpoint(t *testing.T) {
	srv, clock := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/files",
		uploadBody(t, []byte("payload"), map[string]any{"originalType": "image/png"}), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))

	rec = doRequest(srv, http.MethodGet, "/api/v1/files/"+up.FileID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, up.FileID, info.FileID)
	assert.Equal(t, "AES-GCM", info.ZKMetadata.Algorithm)
	assert.Equal(t, "image", info.ZKMetadata.ContentCategory)
	assert.False(t, info.IsExpired)
	assert.Equal(t, int64(0), info.DownloadCount)

	// Info never consumes a download slot.
	rec = doRequest(srv, http.MethodGet, "/api/v1/files/"+up.FileID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, int64(0), info.DownloadCount)

	clock.Advance(25 * time.Hour)
	rec = doRequest(srv, http.MethodGet, "/api/v1/files/"+up.FileID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.IsExpired)
}

func TestAdminDeleteAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/files", uploadBody(t, []byte("payload"), nil), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))

	path := "/api/v1/files/" + up.FileID

	rec = doRequest(srv, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(srv, http.MethodDelete, path, nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wrong, err := auth.GenerateAdminToken("ops", []byte("other-secret"), time.Hour)
	require.NoError(t, err)
	rec = doRequest(srv, http.MethodDelete, path, nil, map[string]string{"Authorization": "Bearer " + wrong})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := auth.GenerateAdminToken("ops", []byte(testAdminSecret), time.Hour)
	require.NoError(t, err)
	header := map[string]string{"Authorization": "Bearer " + tok}

	rec = doRequest(srv, http.MethodDelete, path, nil, header)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(srv, http.MethodDelete, path, nil, header)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/v1/files/"+up.FileID+"/download", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, fmt.Sprintf("/api/v2/files/%s", "abc"), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
