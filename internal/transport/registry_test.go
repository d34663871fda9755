package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func acceptOnce(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- c
		<-r.Context().Done()
	}))
	return srv, accepted
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func TestRegistryReplaceClosesPreviousConnection(t *testing.T) {
	srv, accepted := acceptOnce(t)
	defer srv.Close()

	r := NewRegistry()
	first := dial(t, srv)
	<-accepted
	r.Replace("s1", first)

	// A read on the closed connection should now fail quickly.
	srv2, accepted2 := acceptOnce(t)
	defer srv2.Close()
	second := dial(t, srv2)
	<-accepted2
	r.Replace("s1", second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); err == nil {
		t.Fatalf("expected replaced connection to be closed")
	}
	if r.Get("s1") != second {
		t.Fatalf("expected registry to hold the second connection")
	}
}

func TestRegistryRemoveIsNoopForStaleConnection(t *testing.T) {
	srv, accepted := acceptOnce(t)
	defer srv.Close()

	r := NewRegistry()
	first := dial(t, srv)
	<-accepted
	r.Replace("s1", first)

	srv2, accepted2 := acceptOnce(t)
	defer srv2.Close()
	second := dial(t, srv2)
	<-accepted2
	r.Replace("s1", second)

	r.Remove("s1", first)
	if r.Get("s1") != second {
		t.Fatalf("stale Remove must not evict the current connection")
	}
}

func TestRegistrySendEnvelopeFalseWithoutConnection(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	if r.SendEnvelope(ctx, "no-such-session", Envelope{Kind: KindSessionEvent}) {
		t.Fatalf("expected SendEnvelope to report no connection")
	}
}

func TestRegistryCount(t *testing.T) {
	srv, accepted := acceptOnce(t)
	defer srv.Close()

	r := NewRegistry()
	if r.Count() != 0 {
		t.Fatalf("expected empty registry")
	}
	c := dial(t, srv)
	<-accepted
	r.Replace("s1", c)
	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
}
