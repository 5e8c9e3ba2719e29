package app

import (
	"fmt"
	"log/slog"

	"github.com/bdobrica/Ely/internal/ely/config"
	"github.com/bdobrica/Ely/internal/ely/memory"
	"github.com/bdobrica/Ely/internal/ely/store"
)

// BackendStore is a memory store that can also enumerate identities.
type BackendStore interface {
	memory.Store
	memory.Lister
}

// OpenMemoryStore returns the record store selected by cfg.Backend. db is
// only used by the sqlite backend and may be nil otherwise.
func OpenMemoryStore(cfg config.StorageConfig, db *store.Store, logger *slog.Logger) (BackendStore, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		fs, err := memory.NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.BackendSQLite:
		if db == nil {
			return nil, fmt.Errorf("app: sqlite backend needs an open database")
		}
		return memory.NewSQLiteStore(db.DB(), logger), nil
	default:
		return nil, fmt.Errorf("app: unknown storage backend %q", cfg.Backend)
	}
}
