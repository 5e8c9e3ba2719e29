package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultDir is the storage directory used when none is configured.
const DefaultDir = "data"

const fileSuffix = "_memory.json"

// FileStore keeps each record in its own pretty-printed JSON file named
// "<id>_<scope>_memory.json" under a base directory. The ID is
// path-escaped so it can never name a file outside the directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates the base directory if needed and returns a store
// rooted there. An empty dir selects DefaultDir. If logger is nil, the
// default slog logger is used.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &DirectoryError{Path: dir, Err: err}
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the base directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file that holds the record for key.
func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.dir, url.PathEscape(key.ID)+"_"+string(key.Scope)+fileSuffix)
}

// Load reads and validates the record file for key.
func (s *FileStore) Load(_ context.Context, key Key) (Record, error) {
	path := s.Path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("memory: no stored history, starting fresh", "key", key.String(), "path", path)
		return Record{Messages: []Message{}}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("memory: read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Record{}, &CorruptError{Key: key, Source: path, Err: err}
	}
	if err := recordSchema.Validate(doc); err != nil {
		return Record{}, &CorruptError{Key: key, Source: path, Err: err}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, &CorruptError{Key: key, Source: path, Err: err}
	}
	s.logger.Debug("memory: loaded history from file", "key", key.String(), "path", path, "messages", len(rec.Messages))
	return rec, nil
}

// Save serialises rec and atomically replaces the file for key.
func (s *FileStore) Save(_ context.Context, key Key, rec Record) error {
	path := s.Path(key)
	if rec.Messages == nil {
		rec.Messages = []Message{}
	}
	if err := checkUTF8(rec); err != nil {
		return &SaveError{Kind: SaveErrorSerialize, Key: key, Source: path, Err: err}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &SaveError{Kind: SaveErrorSerialize, Key: key, Source: path, Err: err}
	}
	data = append(data, '\n')

	// The directory may have been removed behind our back since start-up.
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &SaveError{Kind: SaveErrorIO, Key: key, Source: path, Err: err}
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return &SaveError{Kind: SaveErrorIO, Key: key, Source: path, Err: err}
	}
	s.logger.Debug("memory: saved history to file", "key", key.String(), "path", path, "messages", len(rec.Messages))
	return nil
}

// List returns the IDs that have a record file for scope, sorted.
func (s *FileStore) List(_ context.Context, scope Scope) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("memory: list %s: %w", s.dir, err)
	}
	suffix := "_" + string(scope) + fileSuffix
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, suffix))
		if err != nil {
			s.logger.Warn("memory: skip unparseable record file name", "file", name, "err", err)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// writeFileAtomic writes data to a temp file in the target's directory,
// syncs it, then renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

var (
	_ Store  = (*FileStore)(nil)
	_ Lister = (*FileStore)(nil)
)
