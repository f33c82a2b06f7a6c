// Package realtime mirrors backend change-feed events into refetch signals
// for scoped data providers. Events are filtered against the active data
// scope and warehouse selection before any refetch fires, and multiple rows
// changed in one burst coalesce into a single trigger per table.
package realtime

import "github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"

// Operation classifies a change-feed event.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Row is the scoped-entity envelope carried by change events. Only the
// scoping columns matter here; provider refetches read the full rows.
type Row struct {
	UserID      string `json:"user_id,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
	WarehouseID string `json:"warehouse_id,omitempty"`
	// ActorID is the user whose action produced the change, when the
	// backend knows it.
	ActorID string `json:"actor_id,omitempty"`
}

// Event is one delivered change: operation, table and the row images.
type Event struct {
	ID     string    `json:"id,omitempty"`
	Op     Operation `json:"op"`
	Table  string    `json:"table"`
	Before Row       `json:"before,omitempty"`
	After  Row       `json:"after,omitempty"`
}

// Row returns the image relevant for scope filtering: the new row for
// inserts/updates, the old one for deletes.
func (e Event) Row() Row {
	if e.Op == OpDelete {
		return e.Before
	}
	return e.After
}

// Predicate is the scope/selection filter applied to incoming events.
type Predicate struct {
	// UserID is the session identity; events for user-keyed tables must
	// match it.
	UserID string
	// Scope is the data scope the subscription was built from.
	Scope scope.DataScope
	// Warehouse narrows events to one warehouse. nil means the aggregate
	// view; a pointer to the empty string means no selection at all.
	Warehouse *string
}

// Admit reports whether the event may trigger a refetch.
//
// The company check is absolute: an event for a company outside the scope is
// always discarded. The warehouse check has one deliberate exception: an
// insert performed by the session's own user is admitted even when it lands
// in a warehouse other than the selected one, so an object the user just
// created is visible immediately.
func (p Predicate) Admit(e Event) bool {
	row := e.Row()

	if row.CompanyID != "" && !p.Scope.HasCompanyAccess(row.CompanyID) {
		return false
	}
	if row.CompanyID == "" {
		// User-keyed tables carry no company column; match the identity.
		if row.UserID == "" || row.UserID != p.UserID {
			return false
		}
	}

	if p.Warehouse == nil {
		return true
	}
	if *p.Warehouse == "" {
		// No selection: providers render the empty state, nothing refetches.
		return false
	}
	if row.WarehouseID == "" || row.WarehouseID == *p.Warehouse {
		return true
	}
	if e.Op == OpInsert && row.ActorID != "" && row.ActorID == p.UserID {
		return true
	}
	return false
}
