package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout            = errors.New("operation timed out")
	ErrInvalidURL         = errors.New("invalid URL")
	ErrCrawlStopped       = errors.New("crawl has been stopped")
	ErrSeedClassification = errors.New("seed classification failed")
	ErrOracleReply        = errors.New("malformed oracle reply")
	ErrNotConnected       = errors.New("not connected to message broker")
	ErrFileTooLarge       = errors.New("file exceeds size limit")
	ErrUnsupportedFile    = errors.New("unsupported file type")
)

// ClassifyError wraps a failed oracle call. The whole call fails, never
// individual URLs within it; callers treat it as zero classifications.
type ClassifyError struct {
	BatchSize int
	Err       error
}

func (e *ClassifyError) Error() string {
	if e.BatchSize > 1 {
		return fmt.Sprintf("classify error (batch of %d): %v", e.BatchSize, e.Err)
	}
	return fmt.Sprintf("classify error: %v", e.Err)
}

func (e *ClassifyError) Unwrap() error { return e.Err }

// ExtractError wraps a single-URL extraction failure. These are per-URL and
// recoverable: the crawl skips the URL and continues.
type ExtractError struct {
	URL string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract error for %s: %v", e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during persistence.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DriveError wraps a per-file failure in the drive harvester.
type DriveError struct {
	FileID string
	Path   string
	Err    error
}

func (e *DriveError) Error() string {
	switch {
	case e.Path != "" && e.FileID != "":
		return fmt.Sprintf("drive error for %q (id=%s): %v", e.Path, e.FileID, e.Err)
	case e.Path != "":
		return fmt.Sprintf("drive error for %q: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("drive error (id=%s): %v", e.FileID, e.Err)
	}
}

func (e *DriveError) Unwrap() error { return e.Err }

// PipelineError wraps a processor failure, naming the stage that failed.
type PipelineError struct {
	Stage     string
	SourceURL string
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %q failed for %s: %v", e.Stage, e.SourceURL, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
