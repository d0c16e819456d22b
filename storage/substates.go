package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"ledgerengine/core/types"
)

var (
	substatePrefix = []byte("s")
	versionKey     = []byte("v")
)

// SubstateStore is the durable, versioned view of committed substates. Every
// Commit bumps the version by one.
type SubstateStore interface {
	Get(addr types.SubstateAddress) ([]byte, bool, error)
	Commit(updates []types.StateUpdate) (uint64, error)
	Version() (uint64, error)
}

// Store implements SubstateStore on top of a key-value Database.
type Store struct {
	db Database
	mu sync.Mutex
}

// NewStore wraps db.
func NewStore(db Database) *Store {
	return &Store{db: db}
}

// Database returns the underlying key-value store.
func (s *Store) Database() Database { return s.db }

func substateKey(addr types.SubstateAddress) []byte {
	raw := addr.Bytes()
	out := make([]byte, 0, len(substatePrefix)+len(raw))
	out = append(out, substatePrefix...)
	return append(out, raw...)
}

func (s *Store) Get(addr types.SubstateAddress) ([]byte, bool, error) {
	value, ok, err := s.db.Get(substateKey(addr))
	if err != nil {
		return nil, false, fmt.Errorf("storage: read %s: %w", addr, err)
	}
	return value, ok, nil
}

// Commit writes every update and the new version in one batch.
func (s *Store) Commit(updates []types.StateUpdate) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.version()
	if err != nil {
		return 0, err
	}
	next := current + 1

	batch := new(Batch)
	for _, update := range updates {
		if update.Delete {
			batch.Delete(substateKey(update.Address))
			continue
		}
		batch.Put(substateKey(update.Address), update.Value)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	batch.Put(versionKey, buf[:])
	if err := s.db.Write(batch); err != nil {
		return 0, fmt.Errorf("storage: commit version %d: %w", next, err)
	}
	return next, nil
}

func (s *Store) Version() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version()
}

func (s *Store) version() (uint64, error) {
	raw, ok, err := s.db.Get(versionKey)
	if err != nil {
		return 0, fmt.Errorf("storage: read version: %w", err)
	}
	if !ok {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("storage: corrupt version entry (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// ListNode returns the addresses of every committed substate of a node.
func (s *Store) ListNode(node types.NodeId) ([]types.SubstateAddress, error) {
	prefix := append(append([]byte(nil), substatePrefix...), node[:]...)
	keys, err := s.db.Keys(prefix)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", node, err)
	}
	out := make([]types.SubstateAddress, 0, len(keys))
	for _, key := range keys {
		addr, err := types.SubstateAddressFromBytes(key[len(substatePrefix):])
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
