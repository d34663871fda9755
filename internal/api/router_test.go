package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"turnmesh/internal/config"
	"turnmesh/internal/pipeline"
	"turnmesh/internal/sessionmgr"
)

func newTestRouter(t *testing.T) (*httptest.Server, *sessionmgr.Manager) {
	t.Helper()
	cfg := config.Config{}
	cfg.Auth.WorkerSecret = "test-secret"
	mgr := sessionmgr.New(10, nil)
	var lookup PipelineLookup = func(sessionID string) *pipeline.Pipeline { return nil }
	h := NewHandlers(cfg, mgr, lookup, nil)
	srv := httptest.NewServer(NewRouter(h, nil))
	return srv, mgr
}

func TestHealthzOK(t *testing.T) {
	srv, _ := newTestRouter(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGetDeleteUnknownSession404(t *testing.T) {
	srv, _ := newTestRouter(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/unknown")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/unknown", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "test-csrf"})
	req.Header.Set(csrfHeaderName, "test-csrf")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateSessionRejectsCSRFOnStateChangingRequest(t *testing.T) {
	srv, _ := newTestRouter(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without a csrf token pair, got %d", resp.StatusCode)
	}
}

func TestCreateSessionSucceedsWithMatchingCSRFPair(t *testing.T) {
	srv, mgr := newTestRouter(t)
	defer srv.Close()

	// First GET picks up a csrf cookie the client must echo back.
	jar := &cookieJar{}
	getReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	jar.store(getResp)

	postReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/sessions", nil)
	jar.apply(postReq)
	postReq.Header.Set(csrfHeaderName, jar.csrf)
	resp, err := http.DefaultClient.Do(postReq)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if mgr.Count() != 1 {
		t.Fatalf("expected one admitted session, got %d", mgr.Count())
	}
}

// cookieJar is a minimal single-cookie jar, enough to carry the csrf
// cookie between two requests in a test without pulling in net/http/cookiejar's
// URL-parsing ceremony.
type cookieJar struct {
	csrf string
}

func (j *cookieJar) store(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			j.csrf = c.Value
		}
	}
}

func (j *cookieJar) apply(req *http.Request) {
	if j.csrf != "" {
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: j.csrf})
	}
}
