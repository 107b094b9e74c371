package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ralph/metrics"
	"github.com/c360studio/ralph/store"
	"github.com/c360studio/ralph/store/storetest"
	"github.com/c360studio/ralph/webhook"
	"github.com/c360studio/ralph/workflow"
)

const testSecret = "hook-secret"

type fakeQueue struct {
	envelopes []*webhook.Envelope
	healthy   bool
}

func (f *fakeQueue) Enqueue(env *webhook.Envelope) { f.envelopes = append(f.envelopes, env) }
func (f *fakeQueue) Healthy() bool                 { return f.healthy }

type testServer struct {
	srv     *Server
	store   *store.Store
	queue   *fakeQueue
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m := metrics.New()
	st := storetest.New()
	q := &fakeQueue{healthy: true}
	srv := New(Params{
		Addr:          ":0",
		Store:         st,
		Queue:         q,
		Metrics:       m,
		WebhookSecret: testSecret,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testServer{srv: srv, store: st, queue: q, metrics: m}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (ts *testServer) post(t *testing.T, event, delivery string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	if delivery != "" {
		req.Header.Set("X-GitHub-Delivery", delivery)
	}
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

var issuePayload = []byte(`{"action":"opened","issue":{"number":123,"html_url":"https://example.test/123"},"repository":{"full_name":"c360studio/ralph"},"sender":{"login":"octocat","type":"User"}}`)

func (ts *testServer) webhookCount(event, result string) float64 {
	return testutil.ToFloat64(ts.metrics.WebhookEvents.WithLabelValues(event, result))
}

func TestWebhook_AcceptedFirstDelivery(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post(t, "issues", "D1", issuePayload, sign(issuePayload))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["accepted"])
	assert.NotEmpty(t, body["eventId"])

	require.Len(t, ts.queue.envelopes, 1)
	env := ts.queue.envelopes[0]
	assert.Equal(t, body["eventId"], env.EventID, "queued envelope carries the stored event id")
	assert.Equal(t, 123, env.TaskRef.ID)
	assert.Equal(t, "D1", env.Source.DeliveryID)

	event, err := ts.store.GetEvent(context.Background(), "D1")
	require.NoError(t, err)
	assert.Equal(t, "issues", event.EventType)

	assert.Equal(t, float64(1), ts.webhookCount("issues", "accepted"))
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	ts := newTestServer(t)

	first := ts.post(t, "issues", "D1", issuePayload, sign(issuePayload))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := ts.post(t, "issues", "D1", issuePayload, sign(issuePayload))
	assert.Equal(t, http.StatusOK, second.Code)

	body := decodeBody(t, second)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, true, body["duplicate"])

	assert.Len(t, ts.queue.envelopes, 1, "duplicates are never enqueued")
	assert.Equal(t, float64(1), ts.webhookCount("issues", "duplicate"))
}

func TestWebhook_MissingSignature(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post(t, "issues", "D1", issuePayload, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ts.queue.envelopes)
	assert.Equal(t, float64(1), ts.webhookCount("issues", "missing_signature"))
}

func TestWebhook_InvalidSignature(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post(t, "issues", "D1", issuePayload, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ts.queue.envelopes)
	assert.Equal(t, float64(1), ts.webhookCount("issues", "invalid_signature"))

	tampered := ts.post(t, "issues", "D2", issuePayload, sign([]byte("other body")))
	assert.Equal(t, http.StatusUnauthorized, tampered.Code)
}

func TestWebhook_MissingHeaders(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post(t, "", "D1", issuePayload, sign(issuePayload))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.post(t, "issues", "", issuePayload, sign(issuePayload))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"action":`)
	rec := ts.post(t, "issues", "D1", body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decodeBody(t, rec)["reason"])
}

func TestWebhook_NotActionable(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"action":"completed"}`)
	rec := ts.post(t, "workflow_run", "D1", body, sign(body))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "event_not_actionable", decodeBody(t, rec)["reason"])
	assert.Empty(t, ts.queue.envelopes)
	assert.Equal(t, float64(1), ts.webhookCount("workflow_run", "ignored"))
}

func TestWebhook_MissingIssueNumber(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"action":"opened"}`)
	rec := ts.post(t, "issues", "D1", body, sign(body))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "missing_issue_number", decodeBody(t, rec)["reason"])
	assert.Equal(t, float64(1), ts.webhookCount("issues", "missing_issue_number"))
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestReadyz(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.queue.healthy = false
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decodeBody(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.metrics.WorkflowRuns.WithLabelValues("completed").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ralph_workflow_runs_total")
}

func TestRunsAPI(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	run, err := ts.store.CreateRun(ctx, store.RunParams{IssueNumber: 7})
	require.NoError(t, err)
	require.NoError(t, ts.store.UpdateRunStage(ctx, run.ID, workflow.StageSpecGenerated, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Runs []workflow.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, run.ID, list.Runs[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Run         workflow.Run               `json:"run"`
		Transitions []workflow.StageTransition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, workflow.StageSpecGenerated, view.Run.CurrentStage)
	require.Len(t, view.Transitions, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil)
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
