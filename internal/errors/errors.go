// internal/errors/errors.go
package errors

import "fmt"

// SourceUnavailableError is returned when the remote repository cannot be
// reached or the requested branch/tree/content does not exist.
type SourceUnavailableError struct {
	Op  string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable during %s: %v", e.Op, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// ExtractionError is returned when a document's frontmatter cannot be
// parsed. The path identifies the offending file.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %q: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ConfigurationError is returned when the repository owner or name cannot
// be resolved from options, persisted settings, or environment defaults.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// PersistenceError wraps a store-level failure with the operation that
// produced it, so operators see which step broke rather than a raw
// driver message.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SyncError wraps any unrecoverable failure of a sync run together with
// the trigger that started it.
type SyncError struct {
	Trigger string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync (%s) failed: %v", e.Trigger, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
