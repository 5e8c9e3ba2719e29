package memory

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Store persists one Record per Key. Implementations must be safe for
// concurrent use; the Cache serialises calls per scope but not across scopes.
type Store interface {
	// Load returns the stored record for key. A key with nothing stored
	// yields an empty record and a nil error. Content that cannot be decoded
	// is reported as a *CorruptError.
	Load(ctx context.Context, key Key) (Record, error)

	// Save replaces the stored record for key. Readers never observe a
	// partially written record. Failures are reported as a *SaveError.
	Save(ctx context.Context, key Key, rec Record) error
}

// Lister is implemented by stores that can enumerate the identities they
// hold for a scope.
type Lister interface {
	List(ctx context.Context, scope Scope) ([]string, error)
}

// CorruptError reports stored history that exists but cannot be decoded.
type CorruptError struct {
	Key    Key
	Source string // file path or table location
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("memory: stored history for %s at %s is corrupted: %v", e.Key, e.Source, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// SaveErrorKind classifies a failed Save.
type SaveErrorKind string

const (
	SaveErrorIO        SaveErrorKind = "io"
	SaveErrorSerialize SaveErrorKind = "serialize"
)

// SaveError reports a record that could not be persisted.
type SaveError struct {
	Kind   SaveErrorKind
	Key    Key
	Source string
	Err    error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("memory: save %s to %s failed (%s): %v", e.Key, e.Source, e.Kind, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// ErrInvalidUTF8 is wrapped by a SaveErrorSerialize when a message holds
// bytes that JSON cannot carry unchanged.
var ErrInvalidUTF8 = errors.New("message is not valid UTF-8")

func checkUTF8(rec Record) error {
	for i, m := range rec.Messages {
		if !utf8.ValidString(m.Role) || !utf8.ValidString(m.Content) {
			return fmt.Errorf("message %d: %w", i, ErrInvalidUTF8)
		}
	}
	return nil
}

// DirectoryError reports that the storage directory could not be created.
// It is fatal for store initialisation.
type DirectoryError struct {
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("memory: create storage directory %q: %v", e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }
