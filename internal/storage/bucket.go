package storage

// Bucket is a named keyspace inside a shared DB. Keys are stored as
// "<name>/<key>" in the underlying database and callers only ever see their
// own part. The daemon keeps verdicts, token metadata and the reorg
// watcher's checkpoint in separate buckets of one badger database.
type Bucket struct {
	inner  DB
	name   string
	prefix []byte
}

// NewBucket returns the bucket name within inner.
func NewBucket(inner DB, name string) *Bucket {
	return &Bucket{inner: inner, name: name, prefix: []byte(name + "/")}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

func (b *Bucket) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

// Get implements DB.
func (b *Bucket) Get(key []byte) ([]byte, error) { return b.inner.Get(b.key(key)) }

// Put implements DB.
func (b *Bucket) Put(key, value []byte) error { return b.inner.Put(b.key(key), value) }

// Delete implements DB.
func (b *Bucket) Delete(key []byte) error { return b.inner.Delete(b.key(key)) }

// Has implements DB.
func (b *Bucket) Has(key []byte) (bool, error) { return b.inner.Has(b.key(key)) }

// ForEach visits the bucket's keys under prefix. Keys are passed to fn
// without the bucket name.
func (b *Bucket) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.inner.ForEach(b.key(prefix), func(key, value []byte) error {
		return fn(key[len(b.prefix):], value)
	})
}

// Count returns the number of keys in the bucket.
func (b *Bucket) Count() (int, error) {
	var n int
	err := b.inner.ForEach(b.prefix, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Clear removes every key in the bucket in one batch and returns how many
// were removed. Other buckets are untouched.
func (b *Bucket) Clear() (int, error) {
	batch := NewBatch(b.inner)
	var n int
	err := b.inner.ForEach(b.prefix, func(key, _ []byte) error {
		n++
		return batch.Delete(key)
	})
	if err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Close does nothing; the shared database is closed by its owner.
func (b *Bucket) Close() error { return nil }

// NewBatch implements Batcher. The batch is atomic when the underlying
// database is.
func (b *Bucket) NewBatch() Batch {
	return &bucketBatch{inner: NewBatch(b.inner), bucket: b}
}

type bucketBatch struct {
	inner  Batch
	bucket *Bucket
}

func (bb *bucketBatch) Put(key, value []byte) error {
	return bb.inner.Put(bb.bucket.key(key), value)
}

func (bb *bucketBatch) Delete(key []byte) error {
	return bb.inner.Delete(bb.bucket.key(key))
}

func (bb *bucketBatch) Commit() error { return bb.inner.Commit() }
