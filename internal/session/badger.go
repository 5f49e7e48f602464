package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"aina/internal/domain"
)

const (
	profilePrefix    = "profile:"
	maxConflictRetry = 3
)

// BadgerStore keeps msgpack-encoded profiles under "profile:<sender>" keys.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

type BadgerConfig struct {
	Dir      string
	InMemory bool // no disk persistence; used by tests
	Logger   *slog.Logger
}

func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, fmt.Errorf("badger session store: directory is required: %w", domain.ErrValidation)
	}
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(badgerLogger{cfg.Logger})
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{cfg.Logger})
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", cfg.Dir, err)
	}
	return &BadgerStore{db: db, logger: cfg.Logger, now: time.Now}, nil
}

func profileKey(senderID string) []byte {
	return []byte(profilePrefix + senderID)
}

func readProfile(txn *badger.Txn, senderID string) (*domain.SenderProfile, error) {
	item, err := txn.Get(profileKey(senderID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var p domain.SenderProfile
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func writeProfile(txn *badger.Txn, p domain.SenderProfile) error {
	raw, err := msgpack.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return txn.Set(profileKey(p.SenderID), raw)
}

// update runs fn in a read-write transaction, retrying on optimistic
// concurrency conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetry; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) GetProfile(_ context.Context, senderID string) (*domain.SenderProfile, error) {
	var p *domain.SenderProfile
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = readProfile(txn, senderID)
		return err
	})
	if err != nil {
		return nil, persistErr("get profile", senderID, err)
	}
	return p, nil
}

func (s *BadgerStore) UpsertProfile(_ context.Context, senderID, name, specialty, orientation string) (*domain.SenderProfile, error) {
	if err := validateUpsert(senderID, name, specialty, orientation); err != nil {
		return nil, err
	}
	var saved domain.SenderProfile
	err := s.update(func(txn *badger.Txn) error {
		prev, err := readProfile(txn, senderID)
		if err != nil {
			return err
		}
		saved = applyUpsert(prev, senderID, name, specialty, orientation, s.now())
		return writeProfile(txn, saved)
	})
	if err != nil {
		return nil, persistErr("upsert profile", senderID, err)
	}
	s.logger.Debug("profile upserted", "sender", senderID, "backend", "badger")
	return &saved, nil
}

func (s *BadgerStore) HasContacted(ctx context.Context, senderID string) (bool, error) {
	p, err := s.GetProfile(ctx, senderID)
	return p != nil, err
}

func (s *BadgerStore) Touch(_ context.Context, senderID string) error {
	if senderID == "" {
		return errEmptySender
	}
	err := s.update(func(txn *badger.Txn) error {
		prev, err := readProfile(txn, senderID)
		if err != nil || prev != nil {
			return err
		}
		return writeProfile(txn, newContact(senderID, s.now()))
	})
	if err != nil {
		return persistErr("touch", senderID, err)
	}
	return nil
}

func (s *BadgerStore) ListProfiles(_ context.Context, limit int) ([]domain.SenderProfile, error) {
	var all []domain.SenderProfile
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(profilePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var p domain.SenderProfile
				if err := msgpack.Unmarshal(val, &p); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				all = append(all, p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("list profiles", "", err)
	}
	sortProfiles(all)
	return clip(all, limit), nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's printf-style logs into slog. Info and debug
// chatter is demoted to debug.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) logf(level slog.Level, format string, args ...any) {
	if b.l == nil {
		return
	}
	b.l.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Errorf(f string, a ...any)   { b.logf(slog.LevelError, f, a...) }
func (b badgerLogger) Warningf(f string, a ...any) { b.logf(slog.LevelWarn, f, a...) }
func (b badgerLogger) Infof(f string, a ...any)    { b.logf(slog.LevelDebug, f, a...) }
func (b badgerLogger) Debugf(f string, a ...any)   { b.logf(slog.LevelDebug, f, a...) }
