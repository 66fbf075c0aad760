package firmware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadComputesSHA256(t *testing.T) {
	payload := []byte("pretend-firmware-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	dir := t.TempDir()
	dl, err := NewDownloader(dir)
	require.NoError(t, err)

	res, err := dl.Download(context.Background(), server.URL, "10.0.0.5", "AA:BB:CC:DD:EE:FF", nil)
	require.NoError(t, err)

	want := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(want[:]), res.SHA256Hex)
	assert.Equal(t, int64(len(payload)), res.SizeBytes)
	assert.Equal(t, filepath.Join(dir, "10_0_0_5_AABBCCDDEEFF.bin"), res.LocalPath)

	on, readErr := os.ReadFile(res.LocalPath)
	require.NoError(t, readErr)
	assert.Equal(t, payload, on)
}

func TestDownloadNonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dl, err := NewDownloader(t.TempDir())
	require.NoError(t, err)

	_, err = dl.Download(context.Background(), server.URL, "10.0.0.5", "AA:BB:CC:DD:EE:FF", nil)
	assert.Error(t, err)
}
