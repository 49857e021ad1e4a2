package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// errorSidecar is the JSON blob written next to a quarantined file.
type errorSidecar struct {
	Filename      string            `json:"filename"`
	RejectedAt    time.Time         `json:"rejected_at"`
	Reason        string            `json:"reason"`
	Details       string            `json:"details"`
	FileSizeBytes int64             `json:"file_size_bytes"`
	ExifMetadata  map[string]string `json:"exif_metadata,omitempty"`
}

// Quarantine moves a rejected file into rejected/<reason>/ under the drop
// directory and writes a <name>.error.json sidecar beside it.
func Quarantine(dropDir, srcPath string, re *RejectError, meta *ExifMetadata) error {
	name := filepath.Base(srcPath)
	destDir := filepath.Join(dropDir, "rejected", re.Reason)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	var size int64
	if info, err := os.Stat(srcPath); err == nil {
		size = info.Size()
	}

	if err := os.Rename(srcPath, filepath.Join(destDir, name)); err != nil {
		return err
	}

	sidecar := errorSidecar{
		Filename:      name,
		RejectedAt:    time.Now().UTC(),
		Reason:        re.Reason,
		Details:       re.Details,
		FileSizeBytes: size,
	}
	if meta != nil && len(meta.Raw) > 0 {
		sidecar.ExifMetadata = meta.Raw
	}

	blob, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(destDir, name+".error.json"), blob, 0o644)
}
