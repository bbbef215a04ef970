package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	Body        map[string]any
}

// fakeKernel answers every request with the given status and body and keeps
// what it received.
type fakeKernel struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	reply    string
}

func (f *fakeKernel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, ContentType: r.Header.Get("Content-Type")}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_, _ = io.WriteString(w, f.reply)
}

func (f *fakeKernel) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func runCLI(t *testing.T, kernel *fakeKernel, args ...string) (string, error) {
	t.Helper()
	ts := httptest.NewServer(kernel)
	t.Cleanup(ts.Close)

	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs(append([]string{"--server", ts.URL}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueue_SendsTypedParams(t *testing.T) {
	kernel := &fakeKernel{status: http.StatusAccepted, reply: `{"id":"j1","state":"PENDING"}`}

	out, err := runCLI(t, kernel, "enqueue", "send_messages", "--owner", "42",
		"-p", "count=5", "-p", "only_online=true", "-p", "message=Hi {name}",
		"--run-at", "2026-01-02T09:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "j1"`)

	req := kernel.last(t)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/v1/jobs", req.Path)
	assert.Equal(t, "application/json", req.ContentType)
	assert.Equal(t, "send_messages", req.Body["action"])
	assert.Equal(t, "42", req.Body["owner_id"])
	assert.Equal(t, "2026-01-02T09:00:00Z", req.Body["run_at"])
	params := req.Body["params"].(map[string]any)
	assert.Equal(t, float64(5), params["count"])
	assert.Equal(t, true, params["only_online"])
	assert.Equal(t, "Hi {name}", params["message"])
}

func TestEnqueue_RequiresOwner(t *testing.T) {
	_, err := runCLI(t, &fakeKernel{status: http.StatusAccepted, reply: `{}`}, "enqueue", "like_posts")
	assert.Error(t, err)
}

func TestAbort_SurfacesKernelError(t *testing.T) {
	kernel := &fakeKernel{status: http.StatusConflict, reply: `{"error":"invalid job state transition: SUCCESS -> CANCELLED"}`}

	_, err := runCLI(t, kernel, "abort", "j1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job state transition")
	assert.Contains(t, err.Error(), "409")
	assert.Equal(t, "/v1/jobs/j1/abort", kernel.last(t).Path)
}

func TestStatus_ListsJobs(t *testing.T) {
	kernel := &fakeKernel{status: http.StatusOK, reply: `{"jobs":[
		{"id":"j1","owner_id":"42","action":"like_posts","state":"SUCCESS","partial":true,"result":"liked 8 of 10"},
		{"id":"j2","owner_id":"42","action":"join_groups","state":"PENDING"}],"count":2}`}

	out, err := runCLI(t, kernel, "status", "--owner", "42", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "j1\t42\tlike_posts\tSUCCESS*\tliked 8 of 10")
	assert.Contains(t, out, "j2\t42\tjoin_groups\tPENDING")

	req := kernel.last(t)
	assert.Equal(t, "/v1/jobs", req.Path)
	assert.Equal(t, "limit=5&owner_id=42", req.Query)
}

func TestScenarioApply_PostsYAMLAsJSON(t *testing.T) {
	kernel := &fakeKernel{status: http.StatusOK, reply: `{"scenario":{"id":"sc1"},"report":{"unreachable":["spare"],"has_cycle":false}}`}

	file := filepath.Join(t.TempDir(), "grow.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
owner_id: "42"
name: grow
schedule: "0 9 * * *"
active: true
entry_step_id: check
steps:
  check:
    kind: CONDITION
    condition:
      predicate: {metric: friends_count, comparator: ">", value: 100}
      on_success: like
  like:
    kind: ACTION
    action:
      action: like_posts
      params: {count: 20}
  spare:
    kind: ACTION
    action: {action: join_groups, params: {query: golang}}
`), 0o600))

	out, err := runCLI(t, kernel, "scenario", "apply", "-f", file)
	require.NoError(t, err)
	assert.Contains(t, out, "scenario sc1 saved")
	assert.Contains(t, out, "step spare is unreachable")

	req := kernel.last(t)
	assert.Equal(t, "/v1/scenarios", req.Path)
	assert.Equal(t, "42", req.Body["owner_id"])
	steps := req.Body["steps"].(map[string]any)
	assert.Len(t, steps, 3)
	like := steps["like"].(map[string]any)["action"].(map[string]any)
	assert.Equal(t, float64(20), like["params"].(map[string]any)["count"])
}

func TestScenarioRun_WithStartTime(t *testing.T) {
	kernel := &fakeKernel{status: http.StatusAccepted, reply: `{"id":"j9","action":"run_scenario"}`}

	_, err := runCLI(t, kernel, "scenario", "run", "sc1", "--at", "2026-03-01T08:00:00Z")
	require.NoError(t, err)

	req := kernel.last(t)
	assert.Equal(t, "/v1/scenarios/sc1/run", req.Path)
	assert.Equal(t, "2026-03-01T08:00:00Z", req.Body["run_at"])

	_, err = runCLI(t, kernel, "scenario", "run", "sc1", "--at", "tomorrow")
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"count=3", "keep=[1,2]", "query=go lang"})
	require.NoError(t, err)
	assert.Equal(t, float64(3), got["count"])
	assert.Equal(t, []any{float64(1), float64(2)}, got["keep"])
	assert.Equal(t, "go lang", got["query"])

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
}
