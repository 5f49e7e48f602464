// Package convlog persists conversation turns in the background. Recording
// never blocks the reply path and a failed write only produces a log line.
package convlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"aina/internal/domain"
	"aina/internal/metrics"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 10 * time.Second
)

// Recorder accepts completed turns.
type Recorder interface {
	Record(turn domain.ConversationTurn, profile *domain.SenderProfile)
	Close()
}

type entry struct {
	turn    domain.ConversationTurn
	profile *domain.SenderProfile
}

// Logger writes turns to a ConversationStore from a single goroutine.
type Logger struct {
	store  domain.ConversationStore
	queue  chan entry
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func New(store domain.ConversationStore, queueSize int, logger *slog.Logger) *Logger {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	l := &Logger{
		store:  store,
		queue:  make(chan entry, queueSize),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues a turn. Missing IDs and timestamps are filled in. A full
// queue drops the turn.
func (l *Logger) Record(turn domain.ConversationTurn, profile *domain.SenderProfile) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = l.now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("turn recorded after close", "sender", turn.SenderID, "turn", turn.ID)
		return
	}

	select {
	case l.queue <- entry{turn: turn, profile: profile}:
	default:
		metrics.TurnsDropped.Inc()
		l.logger.Warn("conversation log queue full, turn dropped", "sender", turn.SenderID, "turn", turn.ID)
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := l.store.AppendTurn(ctx, e.turn, e.profile)
		cancel()
		if err != nil {
			l.logger.Error("conversation turn not persisted",
				"sender", e.turn.SenderID,
				"turn", e.turn.ID,
				"err", err,
			)
			continue
		}
		l.logger.Debug("conversation turn persisted", "sender", e.turn.SenderID, "turn", e.turn.ID)
	}
}

// Close stops accepting turns and waits for the queue to drain.
func (l *Logger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
}

// NopLogger is used when persistence is disabled.
type NopLogger struct {
	Logger *slog.Logger
}

func (n NopLogger) Record(turn domain.ConversationTurn, profile *domain.SenderProfile) {
	n.Logger.Info("registered without persistence", "sender", turn.SenderID, "kind", turn.Kind)
}

func (NopLogger) Close() {}
