// Package models resolves ML model files: a configured local path wins,
// otherwise the file is downloaded once into the cache directory and reused
// across restarts.
package models

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"
)

const downloadTimeout = 30 * time.Second

// Ensure returns a local path for the model. localPath, when set and
// existing, is used as-is. Otherwise downloadURL is fetched into cacheDir
// keyed by its basename; an existing cached copy short-circuits.
func Ensure(ctx context.Context, cacheDir, localPath, downloadURL string) (string, error) {
	if localPath != "" {
		if _, err := os.Stat(localPath); err == nil {
			return localPath, nil
		}
		log.Printf("[Models] configured path %s missing, trying download", localPath)
	}
	if downloadURL == "" {
		return "", fmt.Errorf("model unavailable: no local file and no download URL")
	}

	u, err := url.Parse(downloadURL)
	if err != nil {
		return "", fmt.Errorf("model URL: %w", err)
	}
	cached := filepath.Join(cacheDir, path.Base(u.Path))
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}
	log.Printf("[Models] downloading %s", downloadURL)

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model download: status %d", resp.StatusCode)
	}

	// Write to a temp name first so a partial download never looks cached.
	tmp := cached + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("model download: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, cached); err != nil {
		return "", err
	}
	log.Printf("[Models] cached model at %s", cached)
	return cached, nil
}
