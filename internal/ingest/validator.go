package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// Rejection reasons double as quarantine folder names.
const (
	ReasonInvalidJPEG       = "invalid_jpeg"
	ReasonTooLarge          = "too_large"
	ReasonDuplicate         = "duplicate"
	ReasonUnsupportedCamera = "unsupported_camera"
	ReasonMissingTimestamp  = "missing_timestamp"
	ReasonExifUnreadable    = "exif_unreadable"
	ReasonReportMalformed   = "report_malformed"
)

const maxImageBytes = 10 << 20 // 10 MiB

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// RejectError carries the quarantine reason for a validation failure.
// Anything else propagating out of the per-file handler leaves the file in
// place for retry.
type RejectError struct {
	Reason  string
	Details string
}

func (e *RejectError) Error() string {
	if e.Details == "" {
		return "rejected: " + e.Reason
	}
	return fmt.Sprintf("rejected: %s (%s)", e.Reason, e.Details)
}

func reject(reason, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Details: fmt.Sprintf(format, args...)}
}

// AsReject extracts a RejectError from an error chain.
func AsReject(err error) (*RejectError, bool) {
	var re *RejectError
	ok := errors.As(err, &re)
	return re, ok
}

// ValidateJPEG checks magic bytes and the size cap, returning the file
// contents on success.
func ValidateJPEG(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxImageBytes {
		return nil, reject(ReasonTooLarge, "%d bytes exceeds %d", info.Size(), maxImageBytes)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < len(jpegMagic) || !bytes.Equal(raw[:len(jpegMagic)], jpegMagic) {
		return nil, reject(ReasonInvalidJPEG, "missing JPEG magic bytes")
	}
	return raw, nil
}
