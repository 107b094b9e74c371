// Package storetest provides an in-memory store.KV with JetStream
// duplicate-key and revision semantics, so repository and orchestrator
// tests run without a NATS server.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/ralph/store"
)

// MemKV is an in-memory store.KV. Safe for concurrent use.
type MemKV struct {
	mu      sync.Mutex
	name    string
	entries map[string]*memEntry
}

type memEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
}

func (e *memEntry) Bucket() string                  { return e.bucket }
func (e *memEntry) Key() string                     { return e.key }
func (e *memEntry) Value() []byte                   { return e.value }
func (e *memEntry) Revision() uint64                { return e.revision }
func (e *memEntry) Created() time.Time              { return e.created }
func (e *memEntry) Delta() uint64                   { return 0 }
func (e *memEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

// NewMemKV creates an empty bucket.
func NewMemKV(name string) *MemKV {
	return &MemKV{name: name, entries: make(map[string]*memEntry)}
}

func (m *MemKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return entry, nil
}

func (m *MemKV) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	m.entries[key] = &memEntry{bucket: m.name, key: key, value: append([]byte(nil), value...), revision: 1, created: time.Now()}
	return 1, nil
}

func (m *MemKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		m.entries[key] = &memEntry{bucket: m.name, key: key, value: append([]byte(nil), value...), revision: 1, created: time.Now()}
		return 1, nil
	}
	entry.value = append([]byte(nil), value...)
	entry.revision++
	return entry.revision, nil
}

func (m *MemKV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return 0, jetstream.ErrKeyNotFound
	}
	if entry.revision != revision {
		return 0, jetstream.ErrKeyExists
	}
	entry.value = append([]byte(nil), value...)
	entry.revision++
	return entry.revision, nil
}

func (m *MemKV) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemKV) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// New wires a Store onto fresh in-memory buckets.
func New() *store.Store {
	return store.NewWithBuckets(
		NewMemKV(store.BucketEvents),
		NewMemKV(store.BucketRuns),
		NewMemKV(store.BucketTasks),
		NewMemKV(store.BucketAttempts),
		NewMemKV(store.BucketArtifacts),
		NewMemKV(store.BucketDecisions),
		NewMemKV(store.BucketTransitions),
	)
}
