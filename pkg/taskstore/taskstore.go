// Package taskstore persists a journal of task registrations. The journal
// survives restarts, so an operator can reconstruct which VM address was
// serving which task when triaging a crashed analysis.
package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Op is the journaled operation type.
type Op string

const (
	OpAdd Op = "add"
	OpDel Op = "del"
)

// Event is one journal entry.
type Event struct {
	Seq    uint64    `json:"seq"`
	Op     Op        `json:"op"`
	TaskID int64     `json:"task_id"`
	IP     string    `json:"ip"`
	Time   time.Time `json:"time"`
}

// Store is a badger-backed append-only journal.
type Store struct {
	db *badger.DB

	mu  sync.Mutex
	seq uint64
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open task journal at %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens an existing journal for post-mortem inspection. The
// journal must not be held open by a running server.
func OpenReadOnly(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil).WithReadOnly(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open task journal at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// loadSeq recovers the highest sequence number after a restart.
func (s *Store) loadSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Keys are zero-padded, so the last key in reverse order holds
		// the highest sequence.
		it.Seek(append(keyPrefix(), 0xff))
		if it.ValidForPrefix(keyPrefix()) {
			var seq uint64
			if _, err := fmt.Sscanf(string(it.Item().Key()), "event/%020d", &seq); err != nil {
				return fmt.Errorf("parse journal key %q: %w", it.Item().Key(), err)
			}
			s.seq = seq
		}
		return nil
	})
}

// RecordAdd journals the binding of a VM address to a task.
func (s *Store) RecordAdd(ctx context.Context, taskID int64, ip string) error {
	return s.append(ctx, OpAdd, taskID, ip)
}

// RecordDel journals the removal of a binding.
func (s *Store) RecordDel(ctx context.Context, taskID int64, ip string) error {
	return s.append(ctx, OpDel, taskID, ip)
}

func (s *Store) append(ctx context.Context, op Op, taskID int64, ip string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	event := Event{
		Seq:    s.seq,
		Op:     op,
		TaskID: taskID,
		IP:     ip,
		Time:   time.Now().UTC(),
	}
	s.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode journal event: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyEvent(event.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("append journal event: %w", err)
	}
	return nil
}

// List returns every journal entry in order.
func (s *Store) List(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []Event
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(keyPrefix()); it.ValidForPrefix(keyPrefix()); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var event Event
				if err := json.Unmarshal(val, &event); err != nil {
					return fmt.Errorf("decode journal event: %w", err)
				}
				events = append(events, event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Close flushes and closes the journal.
func (s *Store) Close() error {
	return s.db.Close()
}

func keyPrefix() []byte {
	return []byte("event/")
}

func keyEvent(seq uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seq))
}
