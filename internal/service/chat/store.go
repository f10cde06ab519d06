package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// ErrConversationNotFound is returned for operations on an id the store does not hold.
var ErrConversationNotFound = errors.New("conversation not found")

const (
	DefaultMaxTurns      = 10
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Conversation is a snapshot of one conversation's history and timestamps.
type Conversation struct {
	ID             string
	Messages       []*schema.Message
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Info summarises a conversation without exposing its messages.
type Info struct {
	ID             string    `json:"conversationId"`
	MessageCount   int       `json:"messageCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// StoreConfig tunes a Store. Zero fields fall back to defaults.
type StoreConfig struct {
	MaxTurns    int
	IdleTimeout time.Duration

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string

	// OnExpire runs for every conversation removed by the janitor, outside the store lock.
	OnExpire func(id string, idle time.Duration)
}

type entry struct {
	conv Conversation
	// turn is a one-slot semaphore serialising chat turns on this conversation.
	turn chan struct{}
	// inFlight counts turns holding or waiting for the turn lock; pinned entries survive Sweep.
	inFlight int
}

// Store owns every conversation held by the process.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxTurns    int
	idleTimeout time.Duration
	now         func() time.Time
	newID       func() string
	onExpire    func(string, time.Duration)
	logger      *slog.Logger
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries:     make(map[string]*entry),
		maxTurns:    cfg.MaxTurns,
		idleTimeout: cfg.IdleTimeout,
		now:         cfg.Now,
		newID:       cfg.NewID,
		onExpire:    cfg.OnExpire,
		logger:      logger.With("component", "conversation_store"),
	}
}

// GetOrCreate resolves id to a conversation. An empty id mints a fresh one; an
// unseen id is accepted as-is and bound to a new empty conversation.
func (s *Store) GetOrCreate(id string) (string, Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, e := s.getOrCreateLocked(id)
	return id, e.snapshot()
}

func (s *Store) getOrCreateLocked(id string) (string, *entry) {
	now := s.now()
	if id == "" {
		id = s.newID()
	}
	if e, ok := s.entries[id]; ok {
		e.conv.LastAccessedAt = now
		return id, e
	}

	e := &entry{
		conv: Conversation{
			ID:             id,
			Messages:       make([]*schema.Message, 0, 2*s.maxTurns+1),
			CreatedAt:      now,
			LastAccessedAt: now,
		},
		turn: make(chan struct{}, 1),
	}
	s.entries[id] = e
	s.logger.Debug("conversation created", "conversation_id", id)
	return id, e
}

// Acquire resolves id like GetOrCreate, pins the conversation against expiry
// and takes its turn lock. The caller must call release exactly once.
func (s *Store) Acquire(ctx context.Context, id string) (string, func(), error) {
	s.mu.Lock()
	id, e := s.getOrCreateLocked(id)
	e.inFlight++
	s.mu.Unlock()

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		s.unpin(e)
		return "", nil, ctx.Err()
	}

	release := sync.OnceFunc(func() {
		<-e.turn
		s.unpin(e)
	})
	return id, release, nil
}

func (s *Store) unpin(e *entry) {
	s.mu.Lock()
	e.inFlight--
	e.conv.LastAccessedAt = s.now()
	s.mu.Unlock()
}

// Append adds msg to the conversation and trims it to the turn budget.
func (s *Store) Append(id string, msg *schema.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrConversationNotFound
	}
	e.conv.Messages = trimHistory(append(e.conv.Messages, msg), 2*s.maxTurns)
	e.conv.LastAccessedAt = s.now()
	return nil
}

// trimHistory keeps the newest limit messages. When anything was dropped, a
// leading assistant reply whose prompt is gone is dropped as well.
func trimHistory(msgs []*schema.Message, limit int) []*schema.Message {
	over := len(msgs) - limit
	if over <= 0 {
		return msgs
	}
	if over < len(msgs) && msgs[over].Role == schema.Assistant {
		over++
	}
	return slices.Delete(msgs, 0, over)
}

// History returns a copy of the conversation's messages.
func (s *Store) History(id string) ([]*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return slices.Clone(e.conv.Messages), nil
}

// Info reports message count and timestamps without touching the conversation.
func (s *Store) Info(id string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:             id,
		MessageCount:   len(e.conv.Messages),
		CreatedAt:      e.conv.CreatedAt,
		LastAccessedAt: e.conv.LastAccessedAt,
	}, true
}

type expired struct {
	id   string
	idle time.Duration
}

// Sweep deletes every unpinned conversation idle for longer than the idle
// timeout as of now, and returns the deleted ids.
func (s *Store) Sweep(now time.Time) []string {
	removed := s.sweep(now)
	ids := make([]string, 0, len(removed))
	for _, r := range removed {
		ids = append(ids, r.id)
	}
	return ids
}

func (s *Store) sweep(now time.Time) []expired {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []expired
	for id, e := range s.entries {
		if e.inFlight > 0 {
			continue
		}
		if idle := now.Sub(e.conv.LastAccessedAt); idle > s.idleTimeout {
			delete(s.entries, id)
			removed = append(removed, expired{id: id, idle: idle})
		}
	}
	return removed
}

// StartJanitor sweeps expired conversations every interval until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireIdle()
			}
		}
	}()
}

func (s *Store) expireIdle() {
	removed := s.sweep(s.now())
	for _, r := range removed {
		s.logger.Info("conversation expired",
			"conversation_id", r.id,
			"idle", r.idle.Round(time.Second).String())
		if s.onExpire != nil {
			s.onExpire(r.id, r.idle)
		}
	}
	if len(removed) > 0 {
		s.logger.Debug("sweep finished", "removed", len(removed), "remaining", s.Len())
	}
}

// Len reports how many conversations are held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every conversation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
}

func (e *entry) snapshot() Conversation {
	c := e.conv
	c.Messages = slices.Clone(e.conv.Messages)
	return c
}
