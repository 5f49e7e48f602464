package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"aina/internal/domain"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the application database and applies
// pending migrations. The handle is shared by the conversation store and
// the sqlite session backend.
func Open(dbPath string, logger *slog.Logger) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return db, nil
}

// SQLiteStore implements domain.ConversationStore: one conversation row per
// sender holding the latest profile snapshot, plus append-only turns.
type SQLiteStore struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
}

// NewSQLiteStore opens its own database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := Open(dbPath, logger)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, owned: true, logger: logger}, nil
}

// NewSQLiteStoreFromDB wraps an already migrated handle. Close leaves it open.
func NewSQLiteStoreFromDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, turn domain.ConversationTurn, profile *domain.SenderProfile) error {
	if turn.ID == "" || turn.SenderID == "" {
		return fmt.Errorf("append turn: id and sender are required: %w", domain.ErrValidation)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append turn: %w", err)
	}
	defer tx.Rollback()

	if profile != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (sender_id, display_name, specialty, orientation, onboarded, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(sender_id) DO UPDATE SET
				display_name = excluded.display_name,
				specialty    = excluded.specialty,
				orientation  = excluded.orientation,
				onboarded    = excluded.onboarded,
				updated_at   = excluded.updated_at`,
			turn.SenderID, profile.DisplayName, profile.Specialty, profile.Orientation, profile.Onboarded,
			turn.Timestamp, turn.Timestamp,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (sender_id, created_at, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(sender_id) DO UPDATE SET updated_at = excluded.updated_at`,
			turn.SenderID, turn.Timestamp, turn.Timestamp,
		)
	}
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", turn.SenderID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (id, sender_id, channel, kind, input, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SenderID, turn.Channel, string(turn.Kind), turn.Input, turn.Response, turn.Timestamp,
	); err != nil {
		return fmt.Errorf("insert turn %s: %w", turn.ID, err)
	}

	return tx.Commit()
}

// GetConversation returns the sender's document with its last turnLimit
// turns in chronological order, or nil, nil when none exists.
func (s *SQLiteStore) GetConversation(ctx context.Context, senderID string, turnLimit int) (*domain.Conversation, error) {
	if turnLimit <= 0 {
		turnLimit = 100
	}

	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT sender_id, display_name, specialty, orientation, onboarded, created_at, updated_at
		 FROM conversations WHERE sender_id = ?`, senderID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", senderID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, channel, kind, input, response, created_at
		 FROM turns WHERE sender_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, senderID, turnLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns %s: %w", senderID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.ConversationTurn
		var channel sql.NullString
		var kind string
		if err := rows.Scan(&t.ID, &t.SenderID, &channel, &kind, &t.Input, &t.Response, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Channel = channel.String
		t.Kind = domain.TurnKind(kind)
		conv.Turns = append(conv.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(conv.Turns)-1; i < j; i, j = i+1, j-1 {
		conv.Turns[i], conv.Turns[j] = conv.Turns[j], conv.Turns[i]
	}
	return conv, nil
}

// ListConversations returns the most recently updated documents, without turns.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, display_name, specialty, orientation, onboarded, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	var p domain.SenderProfile
	var name, specialty, orientation sql.NullString
	if err := row.Scan(&c.SenderID, &name, &specialty, &orientation, &p.Onboarded, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	p.DisplayName, p.Specialty, p.Orientation = name.String, specialty.String, orientation.String
	if p.Onboarded || p.DisplayName != "" {
		p.SenderID = c.SenderID
		p.CreatedAt, p.UpdatedAt = c.CreatedAt, c.UpdatedAt
		c.Profile = &p
	}
	return &c, nil
}

func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
