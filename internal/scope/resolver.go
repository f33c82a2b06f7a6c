package scope

import "context"

// RoleResolver fetches the user's company-role assignments. All statuses are
// returned; the engine separates the approved scope-contributing subset from
// the approval record.
type RoleResolver interface {
	FetchRoleAssignments(ctx context.Context, userID string) ([]RoleAssignment, error)
}

// WarehouseResolver fetches the warehouses the user may access. The backend
// applies its own authorization; the returned set is trusted verbatim and an
// empty result is valid.
type WarehouseResolver interface {
	FetchWarehouseAccesses(ctx context.Context, userID string) ([]WarehouseAccess, error)
}
