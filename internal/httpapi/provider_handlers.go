package httpapi

import (
	"net/http"
	"strings"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/audit"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/providers"
)

func (a *API) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stages": a.graph.Statuses(),
	})
}

func (a *API) handleProviderScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/providers/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "retry" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	stage := providers.StageID(parts[0])
	if err := a.graph.Retry(stage); err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	_ = audit.LogEvent(r.Context(), "provider.retry", map[string]any{
		"stage": string(stage),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"stage":  stage,
		"status": "retrying",
	})
}

func (a *API) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	resp := map[string]any{
		"generation": a.reconciler.Generation(),
		"connected":  true,
	}
	if err := a.reconciler.Err(); err != nil {
		resp["connected"] = false
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRealtimeRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.reconciler.Refresh()
	_ = audit.LogEvent(r.Context(), "realtime.refresh", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": a.reconciler.Generation(),
	})
}
