package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion identifies the envelope wire shape. Consumers reject
// envelopes with a version they do not understand.
const SchemaVersion = "1.0"

// Envelope is the internal representation of an inbound event. Everything
// downstream of the HTTP handler consumes only this shape, never the raw
// provider payload.
type Envelope struct {
	SchemaVersion string          `json:"schema_version"`
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        Source          `json:"source"`
	Actor         Actor           `json:"actor"`
	TaskRef       TaskRef         `json:"task_ref"`
	Payload       json.RawMessage `json:"payload"`
}

// Source names where the delivery came from.
type Source struct {
	System     string `json:"system"`
	Repo       string `json:"repo"`
	DeliveryID string `json:"delivery_id"`
}

// Actor is the user or app that triggered the event.
type Actor struct {
	Type  string `json:"type"`
	Login string `json:"login"`
}

// TaskRef points at the work item the event is about.
type TaskRef struct {
	Kind string `json:"kind"`
	ID   int    `json:"id"`
	URL  string `json:"url"`
}

// githubPayload is the subset of the GitHub webhook payload the mapper
// reads. Unknown fields are carried through untouched in Envelope.Payload.
type githubPayload struct {
	Action string `json:"action"`
	Issue  *struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	} `json:"issue"`
	PullRequest *struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		Draft   bool   `json:"draft"`
	} `json:"pull_request"`
	ProjectsV2Item *struct {
		ContentNumber int    `json:"content_number"`
		ContentURL    string `json:"content_url"`
	} `json:"projects_v2_item"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender *struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"sender"`
}

// Actions that start or resume a workflow, per event type. Everything else
// is acknowledged and dropped.
var actionableActions = map[string]map[string]bool{
	"issues": {
		"opened":   true,
		"reopened": true,
		"labeled":  true,
	},
	"pull_request": {
		"opened":           true,
		"ready_for_review": true,
	},
}

// IsActionableEvent reports whether an event name and payload describe
// something the orchestrator should act on.
func IsActionableEvent(eventName string, payload []byte) bool {
	actions, ok := actionableActions[eventName]
	if !ok {
		return false
	}
	var p githubPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	if eventName == "pull_request" && p.PullRequest != nil && p.PullRequest.Draft && p.Action == "opened" {
		return false
	}
	return actions[p.Action]
}

// ExtractIssueNumber derives the numeric task reference from a payload.
// Precedence is issue, then pull request, then project item. Returns 0
// when no reference is present.
func ExtractIssueNumber(payload []byte) int {
	var p githubPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0
	}
	switch {
	case p.Issue != nil && p.Issue.Number > 0:
		return p.Issue.Number
	case p.PullRequest != nil && p.PullRequest.Number > 0:
		return p.PullRequest.Number
	case p.ProjectsV2Item != nil && p.ProjectsV2Item.ContentNumber > 0:
		return p.ProjectsV2Item.ContentNumber
	}
	return 0
}

// MapEnvelope translates a GitHub delivery into the internal envelope.
// The raw payload is embedded verbatim so nothing is lost in translation.
func MapEnvelope(eventName, deliveryID string, payload []byte) (*Envelope, error) {
	var p githubPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	env := &Envelope{
		SchemaVersion: SchemaVersion,
		EventType:     eventName,
		EventID:       uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Source: Source{
			System:     "github",
			DeliveryID: deliveryID,
		},
		Payload: json.RawMessage(payload),
	}
	if p.Repository != nil {
		env.Source.Repo = p.Repository.FullName
	}
	if p.Sender != nil {
		env.Actor = Actor{Type: p.Sender.Type, Login: p.Sender.Login}
	}

	switch {
	case p.Issue != nil && p.Issue.Number > 0:
		env.TaskRef = TaskRef{Kind: "issue", ID: p.Issue.Number, URL: p.Issue.HTMLURL}
	case p.PullRequest != nil && p.PullRequest.Number > 0:
		env.TaskRef = TaskRef{Kind: "pull_request", ID: p.PullRequest.Number, URL: p.PullRequest.HTMLURL}
	case p.ProjectsV2Item != nil && p.ProjectsV2Item.ContentNumber > 0:
		env.TaskRef = TaskRef{Kind: "project_item", ID: p.ProjectsV2Item.ContentNumber, URL: p.ProjectsV2Item.ContentURL}
	}
	return env, nil
}
