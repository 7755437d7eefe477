package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coauthor/api/internal/auth"
	"coauthor/api/internal/metrics"
	"coauthor/api/internal/store"
)

const testSecret = "test-secret"

type httpEnv struct {
	server *httptest.Server
	tokens map[string]string
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	mem, err := store.NewMemoryStore()
	require.NoError(t, err)
	m, err := metrics.NewMetrics()
	require.NoError(t, err)

	svc := New(mem, Options{ApprovalsRequired: 1, Metrics: m})
	t.Cleanup(svc.Wait)
	srv := NewHTTPServer(svc, HTTPOptions{TokenSecret: testSecret, Metrics: m.Handler()})
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)

	env := &httpEnv{server: server, tokens: map[string]string{}}
	for _, a := range []Actor{lead, ana, cy} {
		token, _, err := auth.Issue([]byte(testSecret), a.ID, a.Name, a.Email, time.Hour)
		require.NoError(t, err)
		env.tokens[a.ID] = token
	}
	return env
}

// do sends a JSON request as actorID and decodes the JSON response. An empty
// actorID sends no token.
func (e *httpEnv) do(t *testing.T, method, path, actorID string, body any, header http.Header) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if actorID != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[actorID])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestHTTPHealth(t *testing.T) {
	env := newHTTPEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	status, body = env.do(t, http.MethodGet, "/api/ready", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	status, _ = env.do(t, http.MethodOptions, "/api/documents", "", nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestHTTPRequiresToken(t *testing.T) {
	env := newHTTPEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/documents", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	forged, _, err := auth.Issue([]byte("other-secret"), "lead", "Lee", "lee@example.com", time.Hour)
	require.NoError(t, err)
	status, _ = env.do(t, http.MethodGet, "/api/session", "", nil, http.Header{"Authorization": {"Bearer " + forged}})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = env.do(t, http.MethodGet, "/api/session", "lead", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "lead", body["authorId"])
}

func TestHTTPDocumentWorkflow(t *testing.T) {
	env := newHTTPEnv(t)

	status, doc := env.do(t, http.MethodPost, "/api/documents", "lead", map[string]any{"title": "Onboarding", "type": "guide"}, nil)
	require.Equal(t, http.StatusCreated, status)
	docID := doc["id"].(string)
	base := "/api/documents/" + docID
	assert.Equal(t, "draft", doc["status"])

	status, body := env.do(t, http.MethodPost, base+"/invitations", "lead", map[string]any{"email": "Ana@Example.com", "role": "reviewer"}, nil)
	require.Equal(t, http.StatusCreated, status)
	invID := body["invitation"].(map[string]any)["id"].(string)

	status, body = env.do(t, http.MethodPost, base+"/invitations/"+invID+"/accept", "cy", nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])

	status, _ = env.do(t, http.MethodPost, base+"/invitations/"+invID+"/accept", "ana", nil, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodPost, base+"/blocks", "lead", map[string]any{"type": "image", "props": map[string]any{"alt": ""}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	details := body["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "alt", details[0].(map[string]any)["field"])

	status, body = env.do(t, http.MethodPost, base+"/blocks", "lead", map[string]any{"type": "quote", "props": map[string]any{"text": "Ship it"}}, nil)
	require.Equal(t, http.StatusCreated, status)
	changeID := body["change"].(map[string]any)["id"].(string)
	revision := int64(body["document"].(map[string]any)["revision"].(float64))

	status, body = env.do(t, http.MethodPost, base+"/comments", "ana", map[string]any{"content": "Looks good"}, http.Header{"If-Match": {strconv.FormatInt(revision-1, 10)}})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "STALE_VERSION", body["code"])
	assert.Equal(t, float64(revision), body["details"].(map[string]any)["revision"])

	status, body = env.do(t, http.MethodPost, base+"/comments", "ana", map[string]any{"content": "Looks good"}, http.Header{"If-Match": {`"` + strconv.FormatInt(revision, 10) + `"`}})
	require.Equal(t, http.StatusCreated, status)
	commentID := body["comment"].(map[string]any)["id"].(string)

	status, body = env.do(t, http.MethodPost, base+"/comments/"+commentID+"/reactions", "lead", map[string]any{"reaction": "like"}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "like", body["reactions"].(map[string]any)["userReaction"])

	status, body = env.do(t, http.MethodPost, base+"/changes/"+changeID+"/review", "ana", map[string]any{"decision": "approve"}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_STATE_TRANSITION", body["code"])

	status, _ = env.do(t, http.MethodPost, base+"/submit", "lead", nil, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = env.do(t, http.MethodPost, base+"/changes/"+changeID+"/review", "ana", map[string]any{"decision": "approve"}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "approved", body["document"].(map[string]any)["status"])

	status, body = env.do(t, http.MethodPost, base+"/publish", "lead", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "published", body["document"].(map[string]any)["status"])

	status, body = env.do(t, http.MethodGet, base+"/versions", "ana", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["versions"], 1)

	status, body = env.do(t, http.MethodGet, base+"/versions/1", "ana", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "SNAPSHOTS_DISABLED", body["code"])

	status, body = env.do(t, http.MethodGet, base+"/timeline?limit=2", "ana", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 2)

	status, body = env.do(t, http.MethodGet, base+"/timeline?limit=-3", "ana", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	status, body = env.do(t, http.MethodGet, "/api/documents/doc_missing", "ana", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])

	status, body = env.do(t, http.MethodGet, "/api/documents", "cy", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["documents"], 1)
}

func TestHTTPBlockEndpoints(t *testing.T) {
	env := newHTTPEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/blocks/quizTF/validate", "cy", `{"statement":"","points":-1}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["valid"])
	assert.Len(t, body["errors"], 2)

	status, body = env.do(t, http.MethodPost, "/api/blocks/quote/validate", "cy", `{"text":"Be kind"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
	assert.Empty(t, body["errors"])

	status, body = env.do(t, http.MethodPost, "/api/blocks", "cy", map[string]any{"type": "callout"}, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "callout", body["type"])
	assert.Equal(t, "info", body["props"].(map[string]any)["variant"])

	status, body = env.do(t, http.MethodPost, "/api/blocks", "cy", map[string]any{"type": "carousel"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	status, body = env.do(t, http.MethodPost, "/api/blocks", "cy", `{"type":`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_BODY", body["code"])
}

func TestHTTPMetrics(t *testing.T) {
	env := newHTTPEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/documents", "lead", map[string]any{"title": "Metrics"}, nil)
	require.Equal(t, http.StatusCreated, status)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `coauthor_workflow_operations_total{op="create_document",result="ok"} 1`)
}
