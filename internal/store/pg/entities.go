package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
)

// ErrTableNotScoped rejects reads on tables outside the scoped allowlist.
var ErrTableNotScoped = errors.New("pg: table is not a scoped entity table")

// scopedTables is the closed set of line-of-business tables provider stages
// may warm up. Table names are never interpolated from user input.
var scopedTables = map[string]struct{}{
	"clients":         {},
	"tasks":           {},
	"invoices":        {},
	"workflows":       {},
	"orders":          {},
	"shipments":       {},
	"inventory_items": {},
}

// EmployeeProfile is the worker record resolved by the employee stage.
type EmployeeProfile struct {
	UserID      string    `json:"user_id"`
	CompanyID   string    `json:"company_id"`
	WarehouseID string    `json:"warehouse_id,omitempty"`
	DisplayName string    `json:"display_name"`
	Position    string    `json:"position,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetEmployeeProfile loads the user's profile for one of their companies.
func (s *Store) GetEmployeeProfile(ctx context.Context, userID string, sc scope.DataScope) (EmployeeProfile, error) {
	if s.db == nil {
		return EmployeeProfile{}, errors.New("database connection unavailable")
	}
	companies := sc.CompanyIDs()
	if len(companies) == 0 {
		return EmployeeProfile{}, fmt.Errorf("%w: no companies in scope", scope.ErrOutOfScope)
	}

	query := `
		select user_id, company_id, coalesce(warehouse_id, ''), display_name, coalesce(position, ''), created_at
		from employee_profiles
		where user_id = $1 and company_id in (` + placeholders(2, len(companies)) + `)
		order by created_at
		limit 1
	`
	args := make([]any, 0, len(companies)+1)
	args = append(args, userID)
	for _, c := range companies {
		args = append(args, c)
	}

	var p EmployeeProfile
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.UserID, &p.CompanyID, &p.WarehouseID, &p.DisplayName, &p.Position, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return EmployeeProfile{}, fmt.Errorf("%w: no employee profile", scope.ErrOutOfScope)
	}
	if err != nil {
		return EmployeeProfile{}, err
	}
	return p, nil
}

// CountScopedRows warms up one provider table, restricted to the scope's
// companies and, when a concrete warehouse is selected, to that warehouse.
// It doubles as the stage's initial fetch: a failing count means the stage
// cannot serve its data.
func (s *Store) CountScopedRows(ctx context.Context, table string, sc scope.DataScope, warehouseID *string) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	if _, ok := scopedTables[table]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrTableNotScoped, table)
	}
	companies := sc.CompanyIDs()
	if len(companies) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString(`select count(*) from `)
	b.WriteString(table)
	b.WriteString(` where company_id in (`)
	b.WriteString(placeholders(1, len(companies)))
	b.WriteString(`)`)

	args := make([]any, 0, len(companies)+1)
	for _, c := range companies {
		args = append(args, c)
	}
	if warehouseID != nil && *warehouseID != "" {
		if !sc.HasWarehouseAccess(*warehouseID) {
			return 0, fmt.Errorf("%w: warehouse %s", scope.ErrOutOfScope, *warehouseID)
		}
		args = append(args, *warehouseID)
		fmt.Fprintf(&b, " and warehouse_id = $%d", len(args))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, b.String(), args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// placeholders renders $start..$start+n-1 as a comma separated list.
func placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", start+i)
	}
	return b.String()
}
