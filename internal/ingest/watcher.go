package ingest

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay gives FTPS servers time to finish writing before we read.
const debounceDelay = 500 * time.Millisecond

// FileHandler processes one dropped file. A returned error leaves the file
// in place for retry on the next filesystem event.
type FileHandler func(ctx context.Context, path string) error

// Watcher monitors the FTPS drop directory and invokes the handler for each
// settled file.
type Watcher struct {
	dropDir string
	handler FileHandler

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewWatcher(dropDir string, handler FileHandler) *Watcher {
	return &Watcher{
		dropDir: dropDir,
		handler: handler,
		pending: make(map[string]*time.Timer),
	}
}

// Run sweeps files already present, then blocks on filesystem events until
// the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dropDir); err != nil {
		return err
	}

	// Startup sweep: files uploaded while the worker was down.
	if err := w.sweep(ctx); err != nil {
		log.Printf("[Ingest] startup sweep: %v", err)
	}

	log.Printf("[Ingest] watching %s", w.dropDir)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.wantFile(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Ingest] watcher error: %v", err)
		}
	}
}

// schedule debounces rapid write events per path, firing the handler once
// the file settles.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(debounceDelay)
		return
	}
	w.pending[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := w.handler(ctx, path); err != nil {
			log.Printf("[Ingest] handle %s: %v (file kept for retry)", filepath.Base(path), err)
		}
	})
}

func (w *Watcher) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(w.dropDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.dropDir, e.Name())
		if !w.wantFile(path) {
			continue
		}
		if err := w.handler(ctx, path); err != nil {
			log.Printf("[Ingest] sweep %s: %v (file kept for retry)", e.Name(), err)
		}
	}
	return nil
}

// wantFile filters to image and report uploads, skipping the rejected/
// subtree, sidecars and FTPS temp files.
func (w *Watcher) wantFile(path string) bool {
	rel, err := filepath.Rel(w.dropDir, path)
	if err != nil || strings.HasPrefix(rel, "rejected"+string(os.PathSeparator)) {
		return false
	}
	name := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".error.json") {
		return false
	}
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg", ".txt":
		return true
	}
	return false
}
