package scope

import "errors"

var (
	// ErrAuthNotReady means the identity is not resolved yet. Scope
	// computation is deferred; this is not surfaced to the user.
	ErrAuthNotReady = errors.New("scope: auth not ready")

	// ErrScopeFetchFailed marks a transient resolver failure. The previous
	// scope is retained and a manual refresh is the only recovery path.
	ErrScopeFetchFailed = errors.New("scope: fetch failed")

	// ErrForbidden is terminal for the session: the approval gate resolved
	// to rejected and no scoped provider may mount.
	ErrForbidden = errors.New("scope: forbidden")

	// ErrOutOfScope rejects a selection or query outside the current data
	// scope. No partial state change occurs.
	ErrOutOfScope = errors.New("scope: out of scope")

	// ErrRealtimeDisconnected means a change-feed subscription dropped.
	// Dependent providers keep their last good data.
	ErrRealtimeDisconnected = errors.New("scope: realtime disconnected")

	// ErrBranchFault is an unexpected fault inside one provider branch,
	// contained by that branch's isolation boundary.
	ErrBranchFault = errors.New("scope: provider branch fault")
)
