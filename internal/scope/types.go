package scope

import (
	"encoding/json"
	"sort"
	"strings"
)

// Role is the role granted inside one company.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// ApprovalStatus gates whether a role grant contributes to scope.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// AccessLevel is the graded permission attached to a warehouse grant.
type AccessLevel string

const (
	AccessView   AccessLevel = "view"
	AccessManage AccessLevel = "manage"
)

// NormalizeAccessLevel maps unknown levels to the weakest one.
func NormalizeAccessLevel(raw string) AccessLevel {
	switch AccessLevel(strings.TrimSpace(strings.ToLower(raw))) {
	case AccessManage:
		return AccessManage
	default:
		return AccessView
	}
}

// RoleAssignment is a grant of a role in a company. Created and updated by
// an administrator out of band; read-only to this core.
type RoleAssignment struct {
	CompanyID string         `json:"company_id"`
	Role      Role           `json:"role"`
	Status    ApprovalStatus `json:"approval_status"`
}

// WarehouseAccess is a grant of access to one warehouse.
type WarehouseAccess struct {
	WarehouseID string      `json:"warehouse_id"`
	CompanyID   string      `json:"company_id"`
	Level       AccessLevel `json:"access_level"`
}

// Capabilities are typed feature flags for backend features that may not be
// provisioned yet. A disabled capability skips its provider stage instead of
// masking failures as empty results.
type Capabilities struct {
	BillingEnabled  bool `json:"billing_enabled"`
	WorkflowEnabled bool `json:"workflow_enabled"`
}

// DataScope is the aggregate access decision: which companies and warehouses
// the user may operate on. It is an immutable value produced only by Compute;
// consumers receive replacements, never mutations.
type DataScope struct {
	companies       map[string]struct{}
	adminCompanies  map[string]struct{}
	warehouses      map[string]struct{}
	warehouseLevels map[string]AccessLevel
	multiAdmin      bool
	version         uint64
}

// Version is the monotonic input version this scope was computed from.
func (s DataScope) Version() uint64 { return s.version }

// HasCompanyAccess reports whether companyID is inside the scope.
func (s DataScope) HasCompanyAccess(companyID string) bool {
	_, ok := s.companies[companyID]
	return ok
}

// HasAdminAccess reports whether the user holds an approved admin role in companyID.
func (s DataScope) HasAdminAccess(companyID string) bool {
	_, ok := s.adminCompanies[companyID]
	return ok
}

// HasWarehouseAccess reports whether warehouseID is inside the scope.
func (s DataScope) HasWarehouseAccess(warehouseID string) bool {
	_, ok := s.warehouses[warehouseID]
	return ok
}

// WarehouseAccessLevel returns the access level for a warehouse in scope.
func (s DataScope) WarehouseAccessLevel(warehouseID string) (AccessLevel, bool) {
	lvl, ok := s.warehouseLevels[warehouseID]
	return lvl, ok
}

// MultiCompanyAdmin is true only when the user administers more than one company.
func (s DataScope) MultiCompanyAdmin() bool { return s.multiAdmin }

// CanViewAllWarehouses reports whether the aggregate "all warehouses" view is
// legal. Only multi-company admins may view across warehouses.
func (s DataScope) CanViewAllWarehouses() bool { return s.multiAdmin }

// IsEmpty reports whether the scope grants nothing.
func (s DataScope) IsEmpty() bool {
	return len(s.companies) == 0 && len(s.warehouses) == 0
}

// CompanyIDs returns a sorted copy of the companies in scope.
func (s DataScope) CompanyIDs() []string { return sortedKeys(s.companies) }

// AdminCompanyIDs returns a sorted copy of the admin companies in scope.
func (s DataScope) AdminCompanyIDs() []string { return sortedKeys(s.adminCompanies) }

// WarehouseIDs returns a sorted copy of the warehouses in scope.
func (s DataScope) WarehouseIDs() []string { return sortedKeys(s.warehouses) }

// MarshalJSON renders the scope with sorted id lists.
func (s DataScope) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"company_ids":         s.CompanyIDs(),
		"admin_company_ids":   s.AdminCompanyIDs(),
		"warehouse_ids":       s.WarehouseIDs(),
		"multi_company_admin": s.multiAdmin,
		"version":             s.version,
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
