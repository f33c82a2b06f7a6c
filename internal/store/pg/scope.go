package pg

import (
	"context"
	"errors"
	"strings"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
)

var (
	_ scope.RoleResolver      = (*Store)(nil)
	_ scope.WarehouseResolver = (*Store)(nil)
)

// FetchRoleAssignments returns every company-role assignment for the user,
// all approval statuses included. The scope engine separates the approved
// subset from the approval record.
func (s *Store) FetchRoleAssignments(ctx context.Context, userID string) ([]scope.RoleAssignment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	rows, err := s.db.QueryContext(ctx, `
		select company_id, role, approval_status
		from company_roles
		where user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []scope.RoleAssignment
	for rows.Next() {
		var (
			a      scope.RoleAssignment
			role   string
			status string
		)
		if err := rows.Scan(&a.CompanyID, &role, &status); err != nil {
			return nil, err
		}
		a.Role = scope.Role(strings.ToLower(strings.TrimSpace(role)))
		a.Status = scope.ApprovalStatus(strings.ToLower(strings.TrimSpace(status)))
		result = append(result, a)
	}
	return result, rows.Err()
}

// FetchWarehouseAccesses calls the backend's accessible-warehouses procedure.
// The procedure applies server-side authorization; its result is trusted
// verbatim and an empty set is a valid answer.
func (s *Store) FetchWarehouseAccesses(ctx context.Context, userID string) ([]scope.WarehouseAccess, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	rows, err := s.db.QueryContext(ctx, `
		select warehouse_id, company_id, access_level
		from get_accessible_warehouses($1)
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []scope.WarehouseAccess
	for rows.Next() {
		var (
			w     scope.WarehouseAccess
			level string
		)
		if err := rows.Scan(&w.WarehouseID, &w.CompanyID, &level); err != nil {
			return nil, err
		}
		w.Level = scope.NormalizeAccessLevel(level)
		result = append(result, w)
	}
	return result, rows.Err()
}
