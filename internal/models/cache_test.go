package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsurePrefersLocalPath(t *testing.T) {
	local := filepath.Join(t.TempDir(), "detector.onnx")
	require.NoError(t, os.WriteFile(local, []byte("weights"), 0o644))

	got, err := Ensure(context.Background(), t.TempDir(), local, "http://unreachable.invalid/model.onnx")
	require.NoError(t, err)
	require.Equal(t, local, got)
}

func TestEnsureDownloadsOnce(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	url := srv.URL + "/classifier.onnx"

	first, err := Ensure(context.Background(), cacheDir, "", url)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cacheDir, "classifier.onnx"), first)

	raw, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, "model-bytes", string(raw))

	// Second call hits the cache, not the server.
	second, err := Ensure(context.Background(), cacheDir, "", url)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, hits)
}

func TestEnsureFailsCleanlyOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	_, err := Ensure(context.Background(), cacheDir, "", srv.URL+"/model.onnx")
	require.Error(t, err)

	// No partial file may be left behind looking like a cached model.
	_, statErr := os.Stat(filepath.Join(cacheDir, "model.onnx"))
	require.True(t, os.IsNotExist(statErr))
}

func TestEnsureRequiresSomeSource(t *testing.T) {
	_, err := Ensure(context.Background(), t.TempDir(), "", "")
	require.Error(t, err)
}
