package dataset

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap/zaptest"
)

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func serve(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDownloadsAndDecompresses(t *testing.T) {
	payload := []byte(csvHeader + validLine(1) + validLine(2))
	srv := serve(t, http.StatusOK, compress(t, payload))
	dir := filepath.Join(t.TempDir(), "staging")

	res, err := NewFetcher(zaptest.NewLogger(t)).Fetch(context.Background(), srv.URL, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, CompressedFileName), res.CompressedPath)
	assert.Equal(t, CSVPath(dir), res.CSVPath)
	assert.Equal(t, int64(len(payload)), res.CSVBytes)

	got, err := os.ReadFile(res.CSVPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestFetchNon2xx(t *testing.T) {
	srv := serve(t, http.StatusNotFound, []byte("missing"))
	dir := t.TempDir()

	_, err := NewFetcher(zaptest.NewLogger(t)).Fetch(context.Background(), srv.URL, dir)
	require.ErrorIs(t, err, ErrFetch)

	_, statErr := os.Stat(CSVPath(dir))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchUnreachable(t *testing.T) {
	srv := serve(t, http.StatusOK, nil)
	url := srv.URL
	srv.Close()

	_, err := NewFetcher(zaptest.NewLogger(t)).Fetch(context.Background(), url, t.TempDir())
	require.ErrorIs(t, err, ErrFetch)
}

func TestFetchCorruptPayload(t *testing.T) {
	srv := serve(t, http.StatusOK, []byte("this is not xz"))
	dir := t.TempDir()

	_, err := NewFetcher(zaptest.NewLogger(t)).Fetch(context.Background(), srv.URL, dir)
	require.ErrorIs(t, err, ErrDecompress)

	_, statErr := os.Stat(CSVPath(dir))
	assert.True(t, os.IsNotExist(statErr), "no partial csv under the final name")
}

func TestDecompressTruncated(t *testing.T) {
	dir := t.TempDir()
	full := compress(t, bytes.Repeat([]byte(validLine(1)), 1000))
	src := filepath.Join(dir, CompressedFileName)
	require.NoError(t, os.WriteFile(src, full[:len(full)/2], 0o644))

	_, err := Decompress(src, CSVPath(dir))
	require.ErrorIs(t, err, ErrDecompress)
}
