// Package pebbledb provides a pebble-backed implementation of
// storage.Store.
//
// Layout: blocks live under 'b' + big-endian slot so an ascending key scan
// yields ascending slots; 'h' + content hash points back at the slot; the
// head key tracks the highest slot written.
package pebbledb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/rotalabs/rota/codec"
	"github.com/rotalabs/rota/storage"
	"github.com/rotalabs/rota/types"
)

const (
	blockPrefix = byte('b')
	hashPrefix  = byte('h')
)

var headKey = []byte("head")

// Store is a durable block store on top of a pebble database. Writes
// serialize behind a mutex; the index and head updates of one save must
// not interleave with another's.
type Store struct {
	writeMu sync.Mutex
	db      *pebble.DB
}

// Open opens (or creates) a store at the given directory.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a store on an in-memory filesystem. Used by tests and
// ephemeral nodes that still want the durable code path.
func OpenMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func blockKey(slot types.Slot) []byte {
	key := make([]byte, 9)
	key[0] = blockPrefix
	binary.BigEndian.PutUint64(key[1:], uint64(slot))
	return key
}

func hashKey(hash types.Hash) []byte {
	key := make([]byte, 33)
	key[0] = hashPrefix
	copy(key[1:], hash[:])
	return key
}

func slotBytes(slot types.Slot) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(slot))
	return buf
}

func (s *Store) SaveBlock(block *types.Block) error {
	enc, err := codec.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	// Replacing a slot must drop the stale hash index entry.
	if old, err := s.BlockBySlot(block.Slot); err == nil {
		if old.ContentHash != block.ContentHash {
			if err := batch.Delete(hashKey(old.ContentHash), nil); err != nil {
				return fmt.Errorf("delete stale hash index: %w", err)
			}
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if err := batch.Set(blockKey(block.Slot), enc, nil); err != nil {
		return fmt.Errorf("set block: %w", err)
	}
	if err := batch.Set(hashKey(block.ContentHash), slotBytes(block.Slot), nil); err != nil {
		return fmt.Errorf("set hash index: %w", err)
	}

	head, err := s.HeadSlot()
	if errors.Is(err, storage.ErrNotFound) || (err == nil && block.Slot > head) {
		if err := batch.Set(headKey, slotBytes(block.Slot), nil); err != nil {
			return fmt.Errorf("set head: %w", err)
		}
	} else if err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit block batch: %w", err)
	}
	return nil
}

func (s *Store) BlockBySlot(slot types.Slot) (*types.Block, error) {
	value, closer, err := s.db.Get(blockKey(slot))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get block at slot %d: %w", slot, err)
	}
	defer closer.Close()

	block, err := codec.DecodeBlock(value)
	if err != nil {
		return nil, fmt.Errorf("decode block at slot %d: %w", slot, err)
	}
	return block, nil
}

func (s *Store) BlockByHash(hash types.Hash) (*types.Block, error) {
	value, closer, err := s.db.Get(hashKey(hash))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hash index: %w", err)
	}
	slot := types.Slot(binary.BigEndian.Uint64(value))
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return s.BlockBySlot(slot)
}

func (s *Store) HeadSlot() (types.Slot, error) {
	value, closer, err := s.db.Get(headKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get head: %w", err)
	}
	defer closer.Close()
	return types.Slot(binary.BigEndian.Uint64(value)), nil
}

func (s *Store) Blocks() ([]*types.Block, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{blockPrefix},
		UpperBound: []byte{blockPrefix + 1},
	})
	if err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	defer iter.Close()

	var blocks []*types.Block
	for iter.First(); iter.Valid(); iter.Next() {
		block, err := codec.DecodeBlock(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode block at key %x: %w", iter.Key(), err)
		}
		blocks = append(blocks, block)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return blocks, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
