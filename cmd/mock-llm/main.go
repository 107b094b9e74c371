// Package main implements a mock LLM server for developing Ralph without a
// real model. It serves OpenAI-compatible /v1/chat/completions responses,
// routing by agent role: the system prompt of each Ralph agent identifies
// whether the call wants a formal spec, a subtask result, a review summary,
// or a merge verdict, and the server answers with a canned response of the
// right shape.
//
// Usage:
//
//	mock-llm -port 11434
//	mock-llm -fixtures /path/to/fixtures -port 11434
//
// With -fixtures, files named spec.yaml, executor.json, reviewer.txt, and
// decider.json override the built-in responses. Sequential executor
// fixtures (executor.1.json, executor.2.json, ...) let a run exercise
// retry paths: the Nth executor call returns the Nth fixture, then the
// base file repeats.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Agent roles ---

// Role names double as fixture file base names.
const (
	roleSpec     = "spec"
	roleExecutor = "executor"
	roleReviewer = "reviewer"
	roleDecider  = "decider"
)

// rolePhrases map a distinctive phrase from each agent's system prompt to
// the role that produced it.
var rolePhrases = []struct {
	phrase string
	role   string
}{
	{"planning agent", roleSpec},
	{"execution agent", roleExecutor},
	{"review agent", roleReviewer},
	{"merge gatekeeper", roleDecider},
}

// detectRole inspects the system message to decide which agent is calling.
func detectRole(messages []chatMessage) string {
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, rp := range rolePhrases {
			if strings.Contains(lower, rp.phrase) {
				return rp.role
			}
		}
	}
	return ""
}

var defaultResponses = map[string]string{
	roleSpec: `spec_version: 1
spec_id: spec-mock-0001
source:
  github:
    repo: example/repo
    issue: 1
    commit_baseline: "0000000000000000000000000000000000000000"
objective: Mock objective produced by the local development server.
acceptance_criteria:
  - The mock work item completes.
work_breakdown:
  - id: wb-1
    title: Mock work item
    owner_role: builder
    definition_of_done:
      - The mock work item is recorded as completed.
`,
	roleExecutor: `{"task_id": "", "status": "completed", "summary": "Mock execution: nothing was changed.", "files_changed": [], "commands_ran": [], "open_questions": [], "handoff_notes": ""}`,
	roleReviewer: `Mock review: the single mock work item completed with no changes. Nothing for a human reviewer to inspect.`,
	roleDecider:  `{"decision": "approve", "rationale": "Mock decision: all tasks completed.", "blocking_findings": []}`,
}

// --- Server ---

type server struct {
	fixtures map[string][]string // role → ordered response sequence
	calls    atomic.Int64

	// Per-role call counters for sequential fixture selection.
	roleCalls   map[string]*atomic.Int64
	roleCallsMu sync.Mutex
}

func newServer(fixtures map[string][]string) *server {
	return &server{
		fixtures:  fixtures,
		roleCalls: make(map[string]*atomic.Int64),
	}
}

func (s *server) getRoleCounter(role string) *atomic.Int64 {
	s.roleCallsMu.Lock()
	defer s.roleCallsMu.Unlock()
	if c, ok := s.roleCalls[role]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.roleCalls[role] = c
	return c
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory of fixture response files (optional)")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}

	fixtures := make(map[string][]string)
	if *fixtureDir != "" {
		var err error
		fixtures, err = loadFixtures(*fixtureDir)
		if err != nil {
			log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
		}
		for role, seq := range fixtures {
			log.Printf("  role: %s (%d fixture(s))", role, len(seq))
		}
	}

	s := newServer(fixtures)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock LLM server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)

	role := detectRole(req.Messages)
	if role == "" {
		log.Printf("[call %d] WARNING: no agent role recognized in system prompt", callNum)
		http.Error(w, "no agent role recognized in system prompt", http.StatusNotFound)
		return
	}

	counter := s.getRoleCounter(role)
	callIndex := int(counter.Add(1) - 1)

	content := s.respond(role, callIndex)
	log.Printf("[call %d] role=%s call_index=%d model=%s", callNum, role, callIndex+1, req.Model)

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     len(content) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// respond picks the fixture for a role, falling back to the built-in
// response when no fixture was loaded.
func (s *server) respond(role string, callIndex int) string {
	seq, ok := s.fixtures[role]
	if !ok || len(seq) == 0 {
		return defaultResponses[role]
	}
	if callIndex < len(seq) {
		return seq[callIndex]
	}
	return seq[len(seq)-1]
}

// handleStats returns call counts for assertions in wiring tests.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.roleCallsMu.Lock()
	callsByRole := make(map[string]int64, len(s.roleCalls))
	for role, counter := range s.roleCalls {
		callsByRole[role] = counter.Load()
	}
	s.roleCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":   s.calls.Load(),
		"calls_by_role": callsByRole,
	})
}

// numberedFileRe matches files like "executor.1.json", "executor.2.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.[a-z]+$`)

// loadFixtures reads fixture files from dir and returns a map of
// role → ordered response sequence. For each role the numbered files come
// first in numeric order, with the base file appended as the repeating
// fallback.
func loadFixtures(dir string) (map[string][]string, error) {
	baseFiles := make(map[string]string)
	numberedFiles := make(map[string]map[int]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		content := string(data)

		name := info.Name()
		if matches := numberedFileRe.FindStringSubmatch(name); matches != nil {
			role := matches[1]
			index, _ := strconv.Atoi(matches[2])
			if numberedFiles[role] == nil {
				numberedFiles[role] = make(map[int]string)
			}
			numberedFiles[role][index] = content
			return nil
		}

		role := strings.TrimSuffix(name, filepath.Ext(name))
		baseFiles[role] = content
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]string)

	allRoles := make(map[string]bool)
	for r := range baseFiles {
		allRoles[r] = true
	}
	for r := range numberedFiles {
		allRoles[r] = true
	}

	for role := range allRoles {
		var seq []string

		if numbered, ok := numberedFiles[role]; ok {
			indices := make([]int, 0, len(numbered))
			for idx := range numbered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, numbered[idx])
			}
		}

		if base, ok := baseFiles[role]; ok {
			seq = append(seq, base)
		}

		if len(seq) > 0 {
			fixtures[role] = seq
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}

	return fixtures, nil
}
