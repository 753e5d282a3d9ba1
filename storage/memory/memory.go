// Package memory provides an in-memory implementation of storage.Store.
package memory

import (
	"sort"
	"sync"

	"github.com/rotalabs/rota/storage"
	"github.com/rotalabs/rota/types"
)

// Store keeps blocks in maps guarded by a read-write mutex. Lookups return
// deep copies, so callers never alias stored blocks.
type Store struct {
	mu      sync.RWMutex
	bySlot  map[types.Slot]*types.Block
	slotFor map[types.Hash]types.Slot
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		bySlot:  make(map[types.Slot]*types.Block),
		slotFor: make(map[types.Hash]types.Slot),
	}
}

func (s *Store) SaveBlock(block *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.bySlot[block.Slot]; ok {
		delete(s.slotFor, old.ContentHash)
	}
	s.bySlot[block.Slot] = block.Copy()
	s.slotFor[block.ContentHash] = block.Slot
	return nil
}

func (s *Store) BlockBySlot(slot types.Slot) (*types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, ok := s.bySlot[slot]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return block.Copy(), nil
}

func (s *Store) BlockByHash(hash types.Hash) (*types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slotFor[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.bySlot[slot].Copy(), nil
}

func (s *Store) HeadSlot() (types.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.bySlot) == 0 {
		return 0, storage.ErrNotFound
	}
	var head types.Slot
	for slot := range s.bySlot {
		if slot > head {
			head = slot
		}
	}
	return head, nil
}

func (s *Store) Blocks() ([]*types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := make([]*types.Block, 0, len(s.bySlot))
	for _, block := range s.bySlot {
		blocks = append(blocks, block.Copy())
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Slot < blocks[j].Slot })
	return blocks, nil
}

func (s *Store) Close() error { return nil }
