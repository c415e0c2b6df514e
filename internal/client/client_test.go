package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/cryptox"
	"github.com/cipherdrop/cipherdrop/internal/logging"
	"github.com/cipherdrop/cipherdrop/internal/server/auth"
	"github.com/cipherdrop/cipherdrop/internal/server/blob"
	"github.com/cipherdrop/cipherdrop/internal/server/httpapi"
	"github.com/cipherdrop/cipherdrop/internal/server/repositories/records"
	"github.com/cipherdrop/cipherdrop/internal/server/services"
	"github.com/cipherdrop/cipherdrop/internal/timex"
)

const testAdminSecret = "client-test-secret"

func newTestClient(t *testing.T) (*Client, *timex.FakeClock) {
	t.Helper()
	clock := &timex.FakeClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	files := services.NewFileService(records.NewMemory(), blob.NewMemory(), nil, logging.Discard(), clock)
	api := httpapi.New("127.0.0.1:0", "http://placeholder", 1<<20, []byte(testAdminSecret),
		files, logging.Discard(), prometheus.NewRegistry())

	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)
	return New(ts.URL), clock
}

func TestEncryptUploadDownloadDecrypt(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	plaintext := []byte("the plans for the weekend")
	password := []byte("correct horse battery staple")

	res, err := c.EncryptAndUpload(ctx, plaintext, password, false, UploadOptions{TTLHours: 24})
	require.NoError(t, err)
	require.NotEmpty(t, res.FileID)
	assert.False(t, res.IsPasswordProtected)

	got, err := c.DownloadAndDecrypt(ctx, res.FileID, password, "")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = c.DownloadAndDecrypt(ctx, res.FileID, []byte("wrong password"), "")
	assert.ErrorIs(t, err, cryptox.ErrDecryptFailed)
}

func TestServerSidePasswordGate(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	plaintext := []byte("gated payload")
	password := []byte("swordfish")

	res, err := c.EncryptAndUpload(ctx, plaintext, password, true, UploadOptions{})
	require.NoError(t, err)
	assert.True(t, res.IsPasswordProtected)

	_, err = c.Download(ctx, res.FileID, "")
	assert.ErrorIs(t, err, common.ErrInvalidPassword)

	got, err := c.DownloadAndDecrypt(ctx, res.FileID, password, string(password))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestLifecycleErrorsSurfaceAsSentinels(t *testing.T) {
	c, clock := newTestClient(t)
	ctx := context.Background()

	max := int64(1)
	res, err := c.EncryptAndUpload(ctx, []byte("once"), []byte("pw"), false,
		UploadOptions{TTLHours: 1, MaxDownloads: &max})
	require.NoError(t, err)

	_, err = c.Download(ctx, res.FileID, "")
	require.NoError(t, err)

	_, err = c.Download(ctx, res.FileID, "")
	assert.ErrorIs(t, err, common.ErrDownloadLimitReached)

	clock.Advance(2 * time.Hour)
	_, err = c.Download(ctx, res.FileID, "")
	assert.ErrorIs(t, err, common.ErrFileExpired)

	_, err = c.Download(ctx, "no-such-file", "")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInfo(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	res, err := c.EncryptAndUpload(ctx, []byte("payload"), []byte("pw"), false,
		UploadOptions{OriginalType: "application/pdf"})
	require.NoError(t, err)

	info, err := c.Info(ctx, res.FileID)
	require.NoError(t, err)
	assert.Equal(t, cryptox.AlgorithmAESGCM, info.ZKMetadata.Algorithm)
	assert.Equal(t, "document", info.ZKMetadata.ContentCategory)
	assert.Equal(t, cryptox.DefaultIterations, info.ZKMetadata.Iterations)
	assert.False(t, info.IsExpired)
	assert.Equal(t, int64(0), info.DownloadCount)
}

func TestAdminDelete(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	res, err := c.EncryptAndUpload(ctx, []byte("payload"), []byte("pw"), false, UploadOptions{})
	require.NoError(t, err)

	err = c.Delete(ctx, res.FileID, "not-a-token")
	assert.ErrorIs(t, err, common.ErrInvalidPassword)

	tok, err := auth.GenerateAdminToken("ops", []byte(testAdminSecret), time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, res.FileID, tok))

	_, err = c.Info(ctx, res.FileID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
