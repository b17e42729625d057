package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/ActorForth/ECash-SLPDB/internal/storage"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Checkpoint is the watcher's last view of the chain: the tip it saw and
// the hashes of the most recent blocks up to it.
type Checkpoint struct {
	Tip    uint64                `json:"tip"`
	Hashes map[uint64]types.Hash `json:"hashes"`
}

var checkpointKey = []byte("checkpoint")

// CheckpointStore persists the watcher checkpoint across restarts.
type CheckpointStore struct {
	db storage.DB
}

// NewCheckpointStore creates a checkpoint store on db.
func NewCheckpointStore(db storage.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Load returns the saved checkpoint, or nil when none was saved.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	data, err := s.db.Get(checkpointKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if _, ok := cp.Hashes[cp.Tip]; !ok {
		return nil, fmt.Errorf("decode checkpoint: no hash for tip %d", cp.Tip)
	}
	return &cp, nil
}

// Save replaces the saved checkpoint.
func (s *CheckpointStore) Save(cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.db.Put(checkpointKey, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Resume restores the watcher from store and saves a checkpoint after
// every poll that moves the tip. It reports whether a checkpoint was
// restored. The first poll after a restore checks the remembered hashes
// against the chain, so a reorg that happened while the daemon was stopped
// is published like any other.
func (w *Watcher) Resume(store *CheckpointStore) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.store = store
	cp, err := store.Load()
	if err != nil || cp == nil {
		return false, err
	}
	w.hashes = maps.Clone(cp.Hashes)
	w.tip = cp.Tip
	w.synced = true
	w.logger.Info().Uint64("tip", cp.Tip).Int("blocks", len(cp.Hashes)).Msg("Chain checkpoint restored")
	return true, nil
}

// checkpoint saves the current view. Caller holds w.mu.
func (w *Watcher) checkpoint() {
	if w.store == nil {
		return
	}
	cp := &Checkpoint{Tip: w.tip, Hashes: w.hashes}
	if err := w.store.Save(cp); err != nil {
		w.logger.Warn().Err(err).Msg("Persist chain checkpoint failed")
	}
}
