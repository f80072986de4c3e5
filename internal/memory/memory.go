// Package memory keeps per-call conversation transcripts for the dialogue agent.
package memory

import (
	"context"
	"sync"
	"time"
)

// Message represents a single message in a conversation.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationStore is an append-only transcript keyed by call identifier.
type ConversationStore interface {
	Append(ctx context.Context, callID string, msgs ...Message) error
	History(ctx context.Context, callID string) ([]Message, error)
	Recent(ctx context.Context, callID string, n int) ([]Message, error)
	Clear(ctx context.Context, callID string) error
	Close() error
}

// conversation holds the message history for a call.
type conversation struct {
	messages  []Message
	updatedAt time.Time
}

// Store provides in-memory conversation storage with an inactivity TTL.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	ttl           time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewStore creates a store that drops conversations idle for longer than ttl.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		conversations: make(map[string]*conversation),
		ttl:           ttl,
		stop:          make(chan struct{}),
	}

	go s.cleanupLoop(sweepInterval(ttl))

	return s
}

// DefaultStore creates a store that expires calls after 1 hour of inactivity.
func DefaultStore() *Store {
	return NewStore(time.Hour)
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

// Append adds messages to the end of the transcript, stamping zero timestamps.
func (s *Store) Append(ctx context.Context, callID string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv, exists := s.conversations[callID]
	if !exists {
		conv = &conversation{}
		s.conversations[callID] = conv
	}
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		conv.messages = append(conv.messages, m)
	}
	conv.updatedAt = now
	return nil
}

// History returns a copy of the transcript, or nil for an unknown call.
func (s *Store) History(ctx context.Context, callID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[callID]
	if !exists {
		return nil, nil
	}

	messages := make([]Message, len(conv.messages))
	copy(messages, conv.messages)
	return messages, nil
}

// Recent returns the last n messages for context window management.
func (s *Store) Recent(ctx context.Context, callID string, n int) ([]Message, error) {
	history, err := s.History(ctx, callID)
	if err != nil {
		return nil, err
	}
	return lastN(history, n), nil
}

// Clear removes a conversation.
func (s *Store) Clear(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, callID)
	return nil
}

// Close stops the cleanup goroutine.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup(time.Now())
		}
	}
}

func (s *Store) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, conv := range s.conversations {
		if now.Sub(conv.updatedAt) > s.ttl {
			delete(s.conversations, id)
		}
	}
}

func lastN(history []Message, n int) []Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

var _ ConversationStore = (*Store)(nil)
