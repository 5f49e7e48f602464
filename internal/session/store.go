package session

import (
	"database/sql"
	"fmt"
	"log/slog"

	"aina/internal/config"
	"aina/internal/domain"
)

// Open builds the configured backend. db is the shared application database
// and is only required by the sqlite backend.
func Open(cfg config.SessionConfig, db *sql.DB, logger *slog.Logger) (domain.SessionStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite session backend needs the application database: %w", domain.ErrValidation)
		}
		return NewSQLiteStore(db, logger), nil
	case "badger":
		return NewBadgerStore(BadgerConfig{Dir: cfg.BadgerDir, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown session backend %q: %w", cfg.Backend, domain.ErrValidation)
	}
}
