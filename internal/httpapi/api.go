package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/identity"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/obs"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/providers"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/realtime"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/selection"
)

// ReadyProbe checks the process is able to serve (DB reachable).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the introspection and control surface over the session core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	provider   *identity.StaticProvider
	engine     *scope.Engine
	selection  *selection.Selection
	graph      *providers.Graph
	reconciler *realtime.Reconciler
}

func New(rp ReadyProbe, version string, provider *identity.StaticProvider, engine *scope.Engine, sel *selection.Selection, graph *providers.Graph, rec *realtime.Reconciler) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		provider:   provider,
		engine:     engine,
		selection:  sel,
		graph:      graph,
		reconciler: rec,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// session control
	a.mux.HandleFunc("/v1/session/signin", a.handleSignIn)
	a.mux.HandleFunc("/v1/session/signout", a.handleSignOut)

	// scope introspection
	a.mux.HandleFunc("/v1/scope", a.handleScope)
	a.mux.HandleFunc("/v1/scope/approval", a.handleApproval)
	a.mux.HandleFunc("/v1/scope/refresh", a.handleScopeRefresh)
	a.mux.HandleFunc("/v1/scope/stream", a.handleScopeStream)

	// warehouse selection
	a.mux.HandleFunc("/v1/selection", a.handleSelection)

	// provider branches and realtime
	a.mux.HandleFunc("/v1/providers", a.handleProviders)
	a.mux.HandleFunc("/v1/providers/", a.handleProviderScoped)
	a.mux.HandleFunc("/v1/realtime", a.handleRealtime)
	a.mux.HandleFunc("/v1/realtime/refresh", a.handleRealtimeRefresh)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "novaware-scope",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "novaware-scope",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleScopeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scope.ErrAuthNotReady):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, scope.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, scope.ErrOutOfScope):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, scope.ErrScopeFetchFailed):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
