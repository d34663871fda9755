package api

import (
	"net/http"
	"strings"

	"turnmesh/internal/ratelimit"
)

// NewRouter wires the REST surface (spec §6 EXTERNAL INTERFACES) behind
// the request-id/CSRF/rate-limit/access-log middleware chain, following
// the old router.go path-splitting style for the /sessions/{id}/...
// sub-resources.
func NewRouter(h *Handlers, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.HandleHealthz)

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.HandleCreateSession(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		const prefix = "/sessions/"
		if !strings.HasPrefix(path, prefix) {
			http.NotFound(w, r)
			return
		}
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}

		if tail == "" {
			switch r.Method {
			case http.MethodGet:
				h.HandleGetSession(w, r, id)
			case http.MethodDelete:
				h.HandleDeleteSession(w, r, id)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}

		switch tail {
		case "cancel":
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			h.HandleCancelSession(w, r, id)
		case "events":
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			h.HandleListEvents(w, r, id)
		case "ws-creds":
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			h.HandleMintWSCreds(w, r, id)
		default:
			http.NotFound(w, r)
		}
	})

	return Chain(mux, RequestID, AccessLog, func(next http.Handler) http.Handler {
		return RateLimit(limiter, next)
	}, CSRF)
}
