package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceScheme(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"data/creditcard.csv", ""},
		{"/abs/creditcard.csv", ""},
		{"file:///abs/creditcard.csv", ""},
		{`C:\data\creditcard.csv`, ""},
		{"https://example.com/creditcard.csv", "https"},
		{"HTTP://example.com/creditcard.csv", "http"},
		{"ftp://ftp.example.com/creditcard.csv", "ftp"},
		{"s3://bucket/creditcard.csv", "s3"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, sourceScheme(tt.source))
		})
	}
}

func TestOpen_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creditcard.csv")
	require.NoError(t, writeTestFile(path, "time,amount\n"))

	rc, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "time,amount\n", string(data))
}

func TestOpen_LocalMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetcher: open")
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "s3://bucket/creditcard.csv", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported source scheme "s3"`)
}

func TestOpen_HTTPZipIsStagedAndRemoved(t *testing.T) {
	zipPath := createTestZIP(t, "creditcard.csv.zip", map[string]string{"creditcard.csv": "time,amount\n1,2\n"})
	archive, err := os.ReadFile(zipPath)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	staging := t.TempDir()
	rc, err := Open(context.Background(), srv.URL+"/creditcard.csv.zip", Options{
		HTTP:    HTTPOptions{Timeout: 5 * time.Second, RatePerSec: 100},
		TempDir: staging,
	})
	require.NoError(t, err)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "time,amount\n1,2\n", string(data))

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, rc.Close())
	entries, err = os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
