package cli

import (
	"fmt"

	"github.com/lazypower/thoughtloop/internal/config"
	"github.com/lazypower/thoughtloop/internal/session"
	"github.com/lazypower/thoughtloop/internal/store"
)

// openDB opens the run-tracking database, which also holds snapshots when
// session.backend is "sqlite".
func openDB(cfg config.Config) (*store.DB, string, error) {
	path := cfg.Paths.Database
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	return db, path, nil
}

// openSnapshots returns the configured snapshot backend. db may be nil for
// the file backend.
func openSnapshots(cfg config.Config, db *store.DB) (session.Store, error) {
	switch cfg.Session.Backend {
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite session backend needs a database")
		}
		return db.Snapshots(), nil
	default:
		fs, err := session.NewFileStore(cfg.Paths.SessionsDir)
		if err != nil {
			return nil, fmt.Errorf("open sessions dir: %w", err)
		}
		return fs, nil
	}
}

// offlineSnapshots opens the snapshot backend without a running server. The
// returned close func is always safe to call.
func offlineSnapshots(cfg config.Config) (session.Store, func(), error) {
	if cfg.Session.Backend != "sqlite" {
		st, err := openSnapshots(cfg, nil)
		return st, func() {}, err
	}
	db, _, err := openDB(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	st, err := openSnapshots(cfg, db)
	if err != nil {
		db.Close()
		return nil, func() {}, err
	}
	return st, func() { db.Close() }, nil
}
