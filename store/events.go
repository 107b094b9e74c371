package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/ralph/redact"
	"github.com/c360studio/ralph/workflow"
)

// EventParams describes a verified inbound delivery.
type EventParams struct {
	DeliveryID  string
	EventType   string
	SourceOwner string
	SourceRepo  string
	Payload     json.RawMessage
}

// RecordEventIfNew inserts an Event keyed by delivery ID. Duplicates are
// detected by the KV duplicate-key error, never by message text: on
// jetstream.ErrKeyExists the existing event is read back and its id
// returned with inserted=false. Safe to retry.
func (s *Store) RecordEventIfNew(ctx context.Context, params EventParams) (inserted bool, eventID string, err error) {
	event := workflow.Event{
		ID:          uuid.New().String(),
		DeliveryID:  params.DeliveryID,
		EventType:   params.EventType,
		SourceOwner: params.SourceOwner,
		SourceRepo:  params.SourceRepo,
		Payload:     redactPayload(params.Payload),
		ReceivedAt:  now(),
	}

	data, err := json.Marshal(&event)
	if err != nil {
		return false, "", fmt.Errorf("marshal event: %w", err)
	}

	if _, err := s.events.Create(ctx, params.DeliveryID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			existing, getErr := s.getEventByDelivery(ctx, params.DeliveryID)
			if getErr != nil {
				return false, "", fmt.Errorf("read duplicate event: %w", getErr)
			}
			return false, existing.ID, nil
		}
		return false, "", fmt.Errorf("store event: %w", err)
	}

	return true, event.ID, nil
}

// GetEvent retrieves an event by its delivery ID.
func (s *Store) GetEvent(ctx context.Context, deliveryID string) (*workflow.Event, error) {
	return s.getEventByDelivery(ctx, deliveryID)
}

func (s *Store) getEventByDelivery(ctx context.Context, deliveryID string) (*workflow.Event, error) {
	entry, err := s.events.Get(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	var event workflow.Event
	if err := json.Unmarshal(entry.Value(), &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}

// LinkEventToRun back-references the run created for an event.
func (s *Store) LinkEventToRun(ctx context.Context, deliveryID, runID string) error {
	return s.mutateEvent(ctx, deliveryID, func(e *workflow.Event) {
		e.WorkflowRunID = runID
	})
}

// MarkEventProcessed flags an event as handled, recording the redacted
// failure reason when the run did not complete.
func (s *Store) MarkEventProcessed(ctx context.Context, deliveryID string, procErr error) error {
	return s.mutateEvent(ctx, deliveryID, func(e *workflow.Event) {
		e.Processed = true
		e.Error = redact.Error(procErr)
	})
}

func (s *Store) mutateEvent(ctx context.Context, deliveryID string, mutate func(*workflow.Event)) error {
	event, err := s.getEventByDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}

	mutate(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.events.Put(ctx, deliveryID, data); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// PurgeStaleDeliveries deletes processed events older than the retention
// window and returns how many were removed.
func (s *Store) PurgeStaleDeliveries(ctx context.Context, retentionDays int) (int, error) {
	keys, err := s.events.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("list event keys: %w", err)
	}

	cutoff := now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, key := range keys {
		event, err := s.getEventByDelivery(ctx, key)
		if err != nil {
			continue
		}
		if !event.Processed || !event.ReceivedAt.Before(cutoff) {
			continue
		}
		if err := s.events.Delete(ctx, key); err != nil {
			return deleted, fmt.Errorf("delete event %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}

// redactPayload runs a structured redaction pass over a JSON payload. A
// payload that fails to decode is stored as redacted text.
func redactPayload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		safe, _ := json.Marshal(redact.Text(string(raw)))
		return safe
	}

	clean, err := json.Marshal(redact.Structured(decoded))
	if err != nil {
		return nil
	}
	return clean
}
