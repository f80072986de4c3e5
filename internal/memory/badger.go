package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	conversationPrefix = "conv"
	messageSeqKey      = "convseq"
	sequenceBandwidth  = 100
)

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// BadgerStore persists transcripts in BadgerDB. Every message is its own key,
// conv/{callID}/{seq}, expiring ttl after it was written.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	ttl time.Duration
}

// OpenBadgerStore opens (creating if needed) a store at dir. An empty dir opens an
// in-memory database.
func OpenBadgerStore(dir string, ttl time.Duration) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create conversation dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(messageSeqKey), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get message sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, ttl: ttl}, nil
}

func callPrefix(callID string) []byte {
	return []byte(fmt.Sprintf("%s/%s/", conversationPrefix, callID))
}

func messageKey(callID string, seq uint64) []byte {
	// Zero padding keeps lexicographic order equal to write order.
	return []byte(fmt.Sprintf("%s/%s/%020d", conversationPrefix, callID, seq))
}

// Append writes msgs in one transaction.
func (s *BadgerStore) Append(ctx context.Context, callID string, msgs ...Message) error {
	now := time.Now()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range msgs {
			if m.Timestamp.IsZero() {
				m.Timestamp = now
			}
			id, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("failed to allocate message id: %w", err)
			}
			value, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}

			entry := badger.NewEntry(messageKey(callID, id), value)
			if s.ttl > 0 {
				entry = entry.WithTTL(s.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return fmt.Errorf("failed to store message: %w", err)
			}
		}
		return nil
	})
}

// History returns the transcript in write order, or nil for an unknown call.
func (s *BadgerStore) History(ctx context.Context, callID string) ([]Message, error) {
	var messages []Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = callPrefix(callID)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m Message
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("failed to decode message: %w", err)
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Recent returns the last n messages.
func (s *BadgerStore) Recent(ctx context.Context, callID string, n int) ([]Message, error) {
	history, err := s.History(ctx, callID)
	if err != nil {
		return nil, err
	}
	return lastN(history, n), nil
}

// Clear deletes every message of a call.
func (s *BadgerStore) Clear(ctx context.Context, callID string) error {
	return s.db.DropPrefix(callPrefix(callID))
}

// Close releases the sequence and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		slog.Warn("failed to release message sequence", "error", err)
	}
	return s.db.Close()
}

var _ ConversationStore = (*BadgerStore)(nil)
