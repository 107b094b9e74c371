// Package store is the durable workflow repository, backed by NATS
// JetStream KV with one bucket per entity type. It is the only write path:
// every persisted text field is redacted here, so bypassing redaction is
// impossible by construction. Run-state mutations are guarded by the stage
// transition table and applied with compare-and-swap on the run row.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for each entity type.
const (
	BucketEvents      = "RALPH_EVENTS"
	BucketRuns        = "RALPH_RUNS"
	BucketTasks       = "RALPH_TASKS"
	BucketAttempts    = "RALPH_ATTEMPTS"
	BucketArtifacts   = "RALPH_ARTIFACTS"
	BucketDecisions   = "RALPH_DECISIONS"
	BucketTransitions = "RALPH_TRANSITIONS"
)

// KV is the slice of jetstream.KeyValue the store uses. Tests run against
// an in-memory implementation; production uses JetStream buckets.
type KV interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// Store provides durable reads and writes for runs, tasks, attempts,
// artifacts, decisions, events, and stage transitions.
type Store struct {
	events      KV
	runs        KV
	tasks       KV
	attempts    KV
	artifacts   KV
	decisions   KV
	transitions KV
}

// New creates a Store, creating the KV buckets if they don't exist. Bucket
// bootstrap retries transient JetStream unavailability at startup.
func New(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	s := &Store{}
	for _, b := range []struct {
		name   string
		target *KV
	}{
		{BucketEvents, &s.events},
		{BucketRuns, &s.runs},
		{BucketTasks, &s.tasks},
		{BucketAttempts, &s.attempts},
		{BucketArtifacts, &s.artifacts},
		{BucketDecisions, &s.decisions},
		{BucketTransitions, &s.transitions},
	} {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			return nil, fmt.Errorf("create %s bucket: %w", strings.ToLower(b.name), err)
		}
		*b.target = kv
	}
	return s, nil
}

// NewWithBuckets wires a Store onto pre-built buckets. Used by tests,
// which substitute in-memory buckets from the storetest package.
func NewWithBuckets(events, runs, tasks, attempts, artifacts, decisions, transitions KV) *Store {
	return &Store{
		events:      events,
		runs:        runs,
		tasks:       tasks,
		attempts:    attempts,
		artifacts:   artifacts,
		decisions:   decisions,
		transitions: transitions,
	}
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	var kv jetstream.KeyValue

	retryConfig := retry.DefaultConfig()
	err := retry.Do(ctx, retryConfig, func() error {
		existing, err := js.KeyValue(ctx, name)
		if err == nil {
			kv = existing
			return nil
		}

		created, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      name,
			Description: fmt.Sprintf("Ralph %s storage", strings.ToLower(name)),
			History:     5,
		})
		if err != nil {
			return err
		}
		kv = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kv, nil
}

// Ping verifies the backing buckets are reachable. A missing key is a
// healthy answer; only transport failures surface.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.runs.Get(ctx, "ping")
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("ping runs bucket: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}
