package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/c360studio/ralph/store"
	"github.com/c360studio/ralph/webhook"
)

// Webhook result labels for ralph_webhook_events_total.
const (
	resultAccepted           = "accepted"
	resultDuplicate          = "duplicate"
	resultIgnored            = "ignored"
	resultMissingIssueNumber = "missing_issue_number"
	resultMissingSignature   = "missing_signature"
	resultInvalidSignature   = "invalid_signature"
	resultError              = "error"
)

// handleWebhook implements the delivery contract: verify the signature
// over the raw body, insert the event exactly once, and enqueue only on
// first insert.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	eventName := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	signature := r.Header.Get("X-Hub-Signature-256")

	if eventName == "" || deliveryID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "reason": "missing_headers"})
		return
	}

	// The raw bytes are the signed message; read them before any decoding.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "reason": "unreadable_body"})
		return
	}

	if signature == "" {
		s.metrics.WebhookEvents.WithLabelValues(eventName, resultMissingSignature).Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"accepted": false, "reason": "missing_signature"})
		return
	}
	if !webhook.VerifySignature(s.webhookSecret, body, signature) {
		s.metrics.WebhookEvents.WithLabelValues(eventName, resultInvalidSignature).Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"accepted": false, "reason": "invalid_signature"})
		return
	}

	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "reason": "invalid_json"})
		return
	}

	if !webhook.IsActionableEvent(eventName, body) {
		s.metrics.WebhookEvents.WithLabelValues(eventName, resultIgnored).Inc()
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": false, "reason": "event_not_actionable"})
		return
	}
	if webhook.ExtractIssueNumber(body) == 0 {
		s.metrics.WebhookEvents.WithLabelValues(eventName, resultMissingIssueNumber).Inc()
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": false, "reason": "missing_issue_number"})
		return
	}

	env, err := webhook.MapEnvelope(eventName, deliveryID, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "reason": "invalid_json"})
		return
	}

	inserted, eventID, err := s.store.RecordEventIfNew(r.Context(), store.EventParams{
		DeliveryID:  deliveryID,
		EventType:   eventName,
		SourceOwner: ownerOf(env.Source.Repo),
		SourceRepo:  env.Source.Repo,
		Payload:     body,
	})
	if err != nil {
		s.logger.Error("record event failed", "delivery_id", deliveryID, "error", err)
		s.metrics.WebhookEvents.WithLabelValues(eventName, resultError).Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{"accepted": false, "reason": "storage_error"})
		return
	}
	if !inserted {
		s.metrics.WebhookEvents.WithLabelValues(eventName, resultDuplicate).Inc()
		writeJSON(w, http.StatusOK, map[string]any{"accepted": false, "duplicate": true})
		return
	}

	env.EventID = eventID
	s.queue.Enqueue(env)

	s.metrics.WebhookEvents.WithLabelValues(eventName, resultAccepted).Inc()
	s.logger.Info("webhook accepted",
		"event_type", eventName,
		"delivery_id", deliveryID,
		"event_id", eventID)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "eventId": eventID})
}

func ownerOf(fullName string) string {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i]
		}
	}
	return fullName
}
