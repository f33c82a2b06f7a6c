package httpapi

import (
	"net/http"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/audit"
)

type selectRequest struct {
	// WarehouseID carries the target warehouse; null requests the
	// all-warehouses view.
	WarehouseID *string `json:"warehouse_id"`
}

type selectionResponse struct {
	WarehouseID *string `json:"warehouse_id"`
	AllView     bool    `json:"all_view"`
	Generation  uint64  `json:"generation"`
}

func (a *API) handleSelection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.getSelection(w, r)
	case http.MethodPost:
		a.postSelection(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) getSelection(w http.ResponseWriter, r *http.Request) {
	cur := a.selection.Current()
	writeJSON(w, http.StatusOK, selectionResponse{
		WarehouseID: cur,
		AllView:     cur == nil,
		Generation:  a.selection.Generation(),
	})
}

func (a *API) postSelection(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.selection.Select(req.WarehouseID); err != nil {
		handleScopeError(w, r, err)
		return
	}
	cur := a.selection.Current()
	fields := map[string]any{"all_view": cur == nil}
	if cur != nil {
		fields["warehouse_id"] = *cur
	}
	_ = audit.LogEvent(r.Context(), "selection.select", fields)
	writeJSON(w, http.StatusOK, selectionResponse{
		WarehouseID: cur,
		AllView:     cur == nil,
		Generation:  a.selection.Generation(),
	})
}
