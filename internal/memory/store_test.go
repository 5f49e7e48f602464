package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"aina/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "aina.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_AppendAndGetConversation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	profile := &domain.SenderProfile{SenderID: "34600", DisplayName: "María González", Specialty: "Clínica", Orientation: "TCC", Onboarded: true}
	for i, input := range []string{"primera", "segunda", "tercera"} {
		turn := domain.ConversationTurn{
			ID:        input,
			SenderID:  "34600",
			Channel:   "whatsapp",
			Kind:      domain.TurnText,
			Input:     input,
			Response:  "resp-" + input,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendTurn(ctx, turn, profile); err != nil {
			t.Fatalf("append %s: %v", input, err)
		}
	}

	conv, err := s.GetConversation(ctx, "34600", 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv == nil {
		t.Fatal("expected conversation")
	}
	if conv.Profile == nil || conv.Profile.DisplayName != "María González" || !conv.Profile.Onboarded {
		t.Fatalf("unexpected profile snapshot: %+v", conv.Profile)
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(conv.Turns))
	}
	if conv.Turns[0].Input != "segunda" || conv.Turns[1].Input != "tercera" {
		t.Fatalf("turns should be the latest two in order, got %q, %q", conv.Turns[0].Input, conv.Turns[1].Input)
	}
	if conv.Turns[1].Channel != "whatsapp" || conv.Turns[1].Kind != domain.TurnText {
		t.Fatalf("unexpected turn fields: %+v", conv.Turns[1])
	}
}

func TestSQLiteStore_ProfileSnapshotUpdates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := &domain.SenderProfile{DisplayName: "Juan", Specialty: "Laboral", Orientation: "ACT", Onboarded: true}
	s.AppendTurn(ctx, domain.ConversationTurn{ID: "a", SenderID: "s1", Kind: domain.TurnVoice, Input: "x", Response: "y"}, p)

	p2 := &domain.SenderProfile{DisplayName: "Juan Pérez", Specialty: "Jurídica", Orientation: "Sistémica", Onboarded: true}
	s.AppendTurn(ctx, domain.ConversationTurn{ID: "b", SenderID: "s1", Kind: domain.TurnText, Input: "x", Response: "y"}, p2)

	// A turn without a profile keeps the last snapshot.
	s.AppendTurn(ctx, domain.ConversationTurn{ID: "c", SenderID: "s1", Kind: domain.TurnText, Input: "x", Response: "y"}, nil)

	conv, err := s.GetConversation(ctx, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Profile.Specialty != "Jurídica" || conv.Profile.DisplayName != "Juan Pérez" {
		t.Fatalf("snapshot not updated: %+v", conv.Profile)
	}
	if len(conv.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(conv.Turns))
	}
}

func TestSQLiteStore_GetConversationMissing(t *testing.T) {
	s := testStore(t)
	conv, err := s.GetConversation(context.Background(), "nobody", 10)
	if err != nil || conv != nil {
		t.Fatalf("expected nil, nil; got %v, %v", conv, err)
	}
}

func TestSQLiteStore_AppendTurnValidation(t *testing.T) {
	s := testStore(t)
	err := s.AppendTurn(context.Background(), domain.ConversationTurn{SenderID: "s1"}, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSQLiteStore_DuplicateTurnIDRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	turn := domain.ConversationTurn{ID: "same", SenderID: "s1", Kind: domain.TurnText, Input: "x", Response: "y"}
	if err := s.AppendTurn(ctx, turn, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTurn(ctx, turn, nil); err == nil {
		t.Fatal("turns are write-once; duplicate id should fail")
	}
}

func TestSQLiteStore_ListConversations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, sender := range []string{"old", "mid", "new"} {
		s.AppendTurn(ctx, domain.ConversationTurn{
			ID: sender, SenderID: sender, Kind: domain.TurnText, Input: "x", Response: "y",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}, nil)
	}

	convs, err := s.ListConversations(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].SenderID != "new" || convs[1].SenderID != "mid" {
		t.Fatalf("unexpected order: %+v", convs)
	}
	if convs[0].Profile != nil {
		t.Fatal("conversation without profile should have nil snapshot")
	}
}

func TestSQLiteStore_SharedHandleNotClosed(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "shared.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewSQLiteStoreFromDB(db, testLogger())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("shared handle should stay open: %v", err)
	}
}
