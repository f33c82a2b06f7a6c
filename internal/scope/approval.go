package scope

// ApprovalState is the user's gate state derived from role assignments.
// It starts Unknown while identity or the first role fetch is in flight and
// must re-enter Unknown on identity change.
type ApprovalState string

const (
	ApprovalUnknown  ApprovalState = "unknown"
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// DeriveApproval computes the gate state from the latest role fetch.
// Any approved assignment unblocks the gate; rejection is only terminal when
// nothing was approved. A user with no assignments at all is still pending.
func DeriveApproval(assignments []RoleAssignment) ApprovalState {
	var sawRejected bool
	for _, a := range assignments {
		switch a.Status {
		case StatusApproved:
			return ApprovalApproved
		case StatusRejected:
			sawRejected = true
		}
	}
	if sawRejected {
		return ApprovalRejected
	}
	return ApprovalPending
}
