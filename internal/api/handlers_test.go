package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"turnmesh/internal/config"
	"turnmesh/internal/pipeline"
	"turnmesh/internal/sessionmgr"
	"turnmesh/internal/types"
)

func newAdmittedTestRouter(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	cfg := config.Config{}
	cfg.Auth.WorkerSecret = "test-secret"
	mgr := sessionmgr.New(10, nil)
	sess, err := mgr.Admit(context.Background(), "sess-1", types.SessionConfig{})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	var lookup PipelineLookup = func(sessionID string) *pipeline.Pipeline { return nil }
	h := NewHandlers(cfg, mgr, lookup, nil)
	srv := httptest.NewServer(NewRouter(h, nil))
	return srv, sess.ID
}

func withCSRF(t *testing.T, srv *httptest.Server, method, url string) *http.Response {
	t.Helper()
	jar := &cookieJar{}
	getResp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	jar.store(getResp)

	req, _ := http.NewRequest(method, url, nil)
	jar.apply(req)
	req.Header.Set(csrfHeaderName, jar.csrf)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestGetSessionReturnsAdmittedState(t *testing.T) {
	srv, id := newAdmittedTestRouter(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/" + id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["session_id"] != id {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestMintWSCredsReturnsToken(t *testing.T) {
	srv, id := newAdmittedTestRouter(t)
	defer srv.Close()

	resp := withCSRF(t, srv, http.MethodPost, srv.URL+"/sessions/"+id+"/ws-creds")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["token"] == "" || body["token"] == nil {
		t.Fatalf("expected a non-empty token, got %+v", body)
	}
}

func TestCancelSessionWithoutPipelineIs503(t *testing.T) {
	srv, id := newAdmittedTestRouter(t)
	defer srv.Close()

	resp := withCSRF(t, srv, http.MethodPost, srv.URL+"/sessions/"+id+"/cancel")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no pipeline is wired yet, got %d", resp.StatusCode)
	}
}

func TestListEventsPaginates(t *testing.T) {
	srv, id := newAdmittedTestRouter(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/" + id + "/events?limit=0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	events, ok := body["events"].([]any)
	if !ok || len(events) != 0 {
		t.Fatalf("expected zero events with limit=0, got %+v", body["events"])
	}
}
