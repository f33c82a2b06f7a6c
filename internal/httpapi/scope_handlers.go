package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/audit"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/identity"
)

type signInRequest struct {
	Token string `json:"token"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ident, err := identity.VerifyToken(req.Token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	a.provider.SignIn(ident.UserID)
	_ = audit.LogEvent(r.Context(), "session.signin", map[string]any{
		"user_id": ident.UserID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": ident.UserID,
	})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.provider.SignOut()
	_ = audit.LogEvent(r.Context(), "session.signout", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "signed_out",
	})
}

func (a *API) handleScope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sc := a.engine.Scope()
	writeJSON(w, http.StatusOK, sc)
}

func (a *API) handleApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approval": a.engine.Approval(),
	})
}

func (a *API) handleScopeRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.engine.Refresh(r.Context()); err != nil {
		handleScopeError(w, r, err)
		return
	}
	sc := a.engine.Scope()
	_ = audit.LogEvent(r.Context(), "scope.refresh", map[string]any{
		"version": sc.Version(),
	})
	writeJSON(w, http.StatusOK, sc)
}

// handleScopeStream pushes every scope transition to the client as SSE.
// A slow consumer only ever misses intermediate states, never the latest.
func (a *API) handleScopeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.engine.Subscribe(r.Context())

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case upd, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(upd)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		}
	}
}
