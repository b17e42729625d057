package token

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ActorForth/ECash-SLPDB/internal/storage"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Key layout:
//
//	m/<tokenID(32)>              -> Metadata JSON
//	h/<height(8, BE)><tokenID>   -> index mark
//
// The height index lets a reorg prune tokens without decoding every record.
var (
	prefixMeta   = []byte("m/")
	prefixHeight = []byte("h/")
	indexMark    = []byte{1}
)

// Store persists token metadata keyed by token ID and indexed by genesis
// height.
type Store struct {
	db storage.DB
}

// NewStore creates a token metadata store.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func metaKey(id types.TokenID) []byte {
	key := make([]byte, 0, len(prefixMeta)+types.HashSize)
	key = append(key, prefixMeta...)
	return append(key, id[:]...)
}

func heightKey(height uint64, id types.TokenID) []byte {
	key := make([]byte, 0, len(prefixHeight)+8+types.HashSize)
	key = append(key, prefixHeight...)
	key = binary.BigEndian.AppendUint64(key, height)
	return append(key, id[:]...)
}

// Put stores metadata for a token, replacing any earlier record and its
// index entry in one batch.
func (s *Store) Put(id types.TokenID, meta *Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("token marshal: %w", err)
	}
	batch := storage.NewBatch(s.db)
	if old, err := s.Get(id); err == nil && old.GenesisHeight != meta.GenesisHeight {
		if err := batch.Delete(heightKey(old.GenesisHeight, id)); err != nil {
			return err
		}
	}
	if err := batch.Put(metaKey(id), data); err != nil {
		return err
	}
	if err := batch.Put(heightKey(meta.GenesisHeight, id), indexMark); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("token put %s: %w", id, err)
	}
	return nil
}

// Get retrieves metadata for a token. A missing token wraps
// storage.ErrNotFound.
func (s *Store) Get(id types.TokenID) (*Metadata, error) {
	data, err := s.db.Get(metaKey(id))
	if err != nil {
		return nil, fmt.Errorf("token get %s: %w", id, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("token %s: corrupt record: %w", id, err)
	}
	return &meta, nil
}

// Has reports whether metadata exists for a token.
func (s *Store) Has(id types.TokenID) (bool, error) {
	return s.db.Has(metaKey(id))
}

// PruneFrom removes every token whose genesis height is at or above
// height and returns their ids. The removal is a single batch.
func (s *Store) PruneFrom(height uint64) ([]types.TokenID, error) {
	var stale []types.TokenID
	batch := storage.NewBatch(s.db)
	err := s.db.ForEach(prefixHeight, func(key, _ []byte) error {
		if len(key) != len(prefixHeight)+8+types.HashSize {
			return nil
		}
		h := binary.BigEndian.Uint64(key[len(prefixHeight):])
		if h < height {
			return nil
		}
		var id types.TokenID
		copy(id[:], key[len(prefixHeight)+8:])
		stale = append(stale, id)
		if err := batch.Delete(key); err != nil {
			return err
		}
		return batch.Delete(metaKey(id))
	})
	if err != nil {
		return nil, fmt.Errorf("token index scan: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("token prune: %w", err)
	}
	return stale, nil
}

// ForEach visits every stored token in id order. Corrupt records are
// skipped. Return a non-nil error from fn to stop early.
func (s *Store) ForEach(fn func(types.TokenID, *Metadata) error) error {
	return s.db.ForEach(prefixMeta, func(key, value []byte) error {
		if len(key) != len(prefixMeta)+types.HashSize {
			return nil
		}
		var meta Metadata
		if json.Unmarshal(value, &meta) != nil {
			return nil
		}
		var id types.TokenID
		copy(id[:], key[len(prefixMeta):])
		return fn(id, &meta)
	})
}

// List returns every known token. It never returns a nil slice.
func (s *Store) List() ([]Info, error) {
	entries := []Info{}
	err := s.ForEach(func(id types.TokenID, meta *Metadata) error {
		entries = append(entries, Info{ID: id, Metadata: *meta})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
