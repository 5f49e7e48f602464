package convlog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"aina/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu      sync.Mutex
	turns   []domain.ConversationTurn
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeStore) AppendTurn(ctx context.Context, turn domain.ConversationTurn, profile *domain.SenderProfile) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeStore) GetConversation(ctx context.Context, senderID string, limit int) (*domain.Conversation, error) {
	return nil, nil
}

func (f *fakeStore) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) stored() []domain.ConversationTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ConversationTurn(nil), f.turns...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRecord_PersistsOnClose(t *testing.T) {
	store := &fakeStore{}
	l := New(store, 8, testLogger())

	l.Record(domain.ConversationTurn{SenderID: "a", Kind: domain.TurnText, Input: "hola", Response: "buenas"}, nil)
	l.Record(domain.ConversationTurn{SenderID: "b", Kind: domain.TurnVoice, Input: "audio", Response: "ok"}, nil)
	l.Close()

	turns := store.stored()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	for _, turn := range turns {
		if _, err := uuid.Parse(turn.ID); err != nil {
			t.Errorf("turn ID %q is not a UUID: %v", turn.ID, err)
		}
		if turn.Timestamp.IsZero() {
			t.Errorf("turn %s has no timestamp", turn.ID)
		}
	}
	if turns[0].SenderID != "a" || turns[1].SenderID != "b" {
		t.Fatalf("turns out of order: %+v", turns)
	}
}

func TestRecord_KeepsGivenID(t *testing.T) {
	store := &fakeStore{}
	l := New(store, 1, testLogger())
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	l.Record(domain.ConversationTurn{ID: "fixed", SenderID: "a", Timestamp: ts}, nil)
	l.Close()

	turns := store.stored()
	if len(turns) != 1 || turns[0].ID != "fixed" || !turns[0].Timestamp.Equal(ts) {
		t.Fatalf("unexpected turn: %+v", turns)
	}
}

func TestRecord_FullQueueDrops(t *testing.T) {
	store := &fakeStore{block: make(chan struct{}), entered: make(chan struct{}, 4)}
	l := New(store, 1, testLogger())

	l.Record(domain.ConversationTurn{SenderID: "first"}, nil)
	<-store.entered // writer is now blocked inside AppendTurn

	l.Record(domain.ConversationTurn{SenderID: "queued"}, nil)
	l.Record(domain.ConversationTurn{SenderID: "dropped"}, nil)

	close(store.block)
	l.Close()

	turns := store.stored()
	if len(turns) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d: %+v", len(turns), turns)
	}
	for _, turn := range turns {
		if turn.SenderID == "dropped" {
			t.Fatal("turn beyond queue capacity should be dropped")
		}
	}
}

func TestRecord_StoreErrorIsLogged(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	l := New(store, 4, testLogger())
	l.Record(domain.ConversationTurn{SenderID: "a"}, nil)
	l.Close()

	if len(store.stored()) != 0 {
		t.Fatal("failed write should not be stored")
	}
}

func TestRecord_AfterClose(t *testing.T) {
	store := &fakeStore{}
	l := New(store, 4, testLogger())
	l.Close()
	l.Close()
	l.Record(domain.ConversationTurn{SenderID: "late"}, nil)

	if len(store.stored()) != 0 {
		t.Fatal("turn recorded after close should be ignored")
	}
}

func TestNopLogger(t *testing.T) {
	var r Recorder = NopLogger{Logger: testLogger()}
	r.Record(domain.ConversationTurn{SenderID: "a"}, nil)
	r.Close()
}
