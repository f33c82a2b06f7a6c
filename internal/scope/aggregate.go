package scope

import "strings"

// Compute combines role assignments and warehouse accesses into one immutable
// DataScope. Deterministic and side-effect free: shuffling input order yields
// the same result.
//
// Only approved assignments contribute companies. A warehouse grant whose
// company the user no longer holds an approved role in is excluded.
func Compute(assignments []RoleAssignment, accesses []WarehouseAccess, version uint64) DataScope {
	companies := make(map[string]struct{})
	admins := make(map[string]struct{})
	for _, a := range assignments {
		if a.Status != StatusApproved {
			continue
		}
		companyID := strings.TrimSpace(a.CompanyID)
		if companyID == "" {
			continue
		}
		companies[companyID] = struct{}{}
		if a.Role == RoleAdmin {
			admins[companyID] = struct{}{}
		}
	}

	warehouses := make(map[string]struct{})
	levels := make(map[string]AccessLevel)
	for _, w := range accesses {
		warehouseID := strings.TrimSpace(w.WarehouseID)
		if warehouseID == "" {
			continue
		}
		if _, ok := companies[w.CompanyID]; !ok {
			continue
		}
		warehouses[warehouseID] = struct{}{}
		lvl := NormalizeAccessLevel(string(w.Level))
		// Keep the strongest level when the same warehouse is granted twice.
		if existing, ok := levels[warehouseID]; !ok || existing == AccessView {
			levels[warehouseID] = lvl
		}
	}

	return DataScope{
		companies:       companies,
		adminCompanies:  admins,
		warehouses:      warehouses,
		warehouseLevels: levels,
		multiAdmin:      len(admins) > 1,
		version:         version,
	}
}
