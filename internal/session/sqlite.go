package session

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"aina/internal/domain"
)

// SQLiteStore keeps profiles in the profiles table of the application
// database. The handle must already be migrated (memory.Open does that).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

const profileColumns = `sender_id, display_name, specialty, orientation, onboarded, created_at, updated_at`

func (s *SQLiteStore) GetProfile(ctx context.Context, senderID string) (*domain.SenderProfile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE sender_id = ?`, senderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get profile", senderID, err)
	}
	return p, nil
}

// UpsertProfile writes in one statement, so concurrent writers for the same
// sender serialize inside SQLite.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, senderID, name, specialty, orientation string) (*domain.SenderProfile, error) {
	if err := validateUpsert(senderID, name, specialty, orientation); err != nil {
		return nil, err
	}
	p := applyUpsert(nil, senderID, name, specialty, orientation, s.now())

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET
			display_name = excluded.display_name,
			specialty    = excluded.specialty,
			orientation  = excluded.orientation,
			onboarded    = 1,
			updated_at   = excluded.updated_at`,
		p.SenderID, p.DisplayName, p.Specialty, p.Orientation, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return nil, persistErr("upsert profile", senderID, err)
	}
	saved, err := s.GetProfile(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, persistErr("upsert profile", senderID, errors.New("row missing after write"))
	}
	s.logger.Debug("profile upserted", "sender", senderID, "backend", "sqlite")
	return saved, nil
}

func (s *SQLiteStore) HasContacted(ctx context.Context, senderID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE sender_id = ?`, senderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("has contacted", senderID, err)
	}
	return true, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, senderID string) error {
	if senderID == "" {
		return errEmptySender
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (sender_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(sender_id) DO NOTHING`,
		senderID, now, now,
	); err != nil {
		return persistErr("touch", senderID, err)
	}
	return nil
}

func (s *SQLiteStore) ListProfiles(ctx context.Context, limit int) ([]domain.SenderProfile, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY updated_at DESC, sender_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, persistErr("list profiles", "", err)
	}
	defer rows.Close()

	var out []domain.SenderProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, persistErr("scan profile", "", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Close is a no-op: the handle belongs to whoever opened it.
func (s *SQLiteStore) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.SenderProfile, error) {
	var p domain.SenderProfile
	var name, specialty, orientation sql.NullString
	if err := row.Scan(&p.SenderID, &name, &specialty, &orientation, &p.Onboarded, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.DisplayName, p.Specialty, p.Orientation = name.String, specialty.String, orientation.String
	return &p, nil
}
