package cache

import (
	"encoding/json"
	"fmt"

	"github.com/ActorForth/ECash-SLPDB/internal/storage"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

var prefixVerdict = []byte("v/") // v/<tokenID(32)><txID(32)> -> verdict JSON

// Store persists resolved verdicts.
type Store struct {
	db storage.DB
}

// NewStore creates a verdict store.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func verdictKey(k verdict.Key) []byte {
	key := make([]byte, 0, len(prefixVerdict)+2*types.HashSize)
	key = append(key, prefixVerdict...)
	key = append(key, k.TokenID[:]...)
	return append(key, k.TxID[:]...)
}

// Put stores v.
func (s *Store) Put(v verdict.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("verdict marshal: %w", err)
	}
	return s.db.Put(verdictKey(v.Key()), data)
}

// Delete removes the given verdicts, atomically when the database supports
// batches.
func (s *Store) Delete(keys []verdict.Key) error {
	if len(keys) == 0 {
		return nil
	}
	batch := storage.NewBatch(s.db)
	for _, k := range keys {
		if err := batch.Delete(verdictKey(k)); err != nil {
			return fmt.Errorf("verdict delete: %w", err)
		}
	}
	return batch.Commit()
}

// ForEach iterates over stored verdicts.
// Return a non-nil error from fn to stop iteration early.
func (s *Store) ForEach(fn func(verdict.Verdict) error) error {
	return s.db.ForEach(prefixVerdict, func(key, value []byte) error {
		if len(key) != len(prefixVerdict)+2*types.HashSize {
			return nil // Malformed key, skip.
		}
		var v verdict.Verdict
		if err := json.Unmarshal(value, &v); err != nil {
			return nil // Skip corrupt entries.
		}
		return fn(v)
	})
}
