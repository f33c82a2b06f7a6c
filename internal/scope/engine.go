package scope

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/identity"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/obs"
)

// Update is one published state transition: the identity it belongs to, the
// approval gate state and the (possibly empty) data scope. Seq is the publish
// order assigned under the engine mutex; subscribers and the conflation in
// publish use it to keep a newer update from being displaced by an older one
// whose publisher lost the race after unlocking.
type Update struct {
	Identity identity.Identity `json:"identity"`
	Approval ApprovalState     `json:"approval"`
	Scope    DataScope         `json:"scope"`
	Seq      uint64            `json:"seq"`
}

// Engine owns the single-writer DataScope. It runs both resolvers
// concurrently on every refresh, keys each refresh with a monotonic sequence
// so a result computed from an older snapshot can never overwrite a newer
// one, retains the previous scope on transient failure, and tears down all
// session state on identity change.
type Engine struct {
	roles      RoleResolver
	warehouses WarehouseResolver
	provider   identity.Provider

	mu            sync.Mutex
	ident         identity.Identity
	seq           uint64 // last issued refresh sequence
	applied       uint64 // sequence of the currently applied result
	pubSeq        uint64 // publish order for Update fan-out
	scope         DataScope
	approval      ApprovalState
	lastErr       error
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	subMu sync.RWMutex
	subs  map[int]chan Update
	next  int
}

// NewEngine wires the engine to its identity provider and resolvers.
func NewEngine(provider identity.Provider, roles RoleResolver, warehouses WarehouseResolver) *Engine {
	return &Engine{
		roles:      roles,
		warehouses: warehouses,
		provider:   provider,
		approval:   ApprovalUnknown,
		subs:       make(map[int]chan Update),
	}
}

// Run follows identity changes until ctx ends. Each sign-in starts a fresh
// session; sign-out cancels every in-flight fetch before any new identity's
// resolution begins.
func (e *Engine) Run(ctx context.Context) {
	e.setIdentity(ctx, e.provider.Current())
	ch := e.provider.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ident, ok := <-ch:
			if !ok {
				return
			}
			e.setIdentity(ctx, ident)
		}
	}
}

// Refresh fetches both resolver inputs in parallel and applies the result if
// it is still the newest. There is no automatic retry: on failure the prior
// scope is retained and the caller decides when to try again.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	ident := e.ident
	if !ident.Ready {
		e.mu.Unlock()
		return ErrAuthNotReady
	}
	e.seq++
	seq := e.seq
	if e.sessionCtx != nil {
		ctx = e.sessionCtx
	}
	e.mu.Unlock()

	var (
		assignments []RoleAssignment
		accesses    []WarehouseAccess
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := e.roles.FetchRoleAssignments(gctx, ident.UserID)
		if err != nil {
			return fmt.Errorf("role assignments: %w", err)
		}
		assignments = out
		return nil
	})
	g.Go(func() error {
		out, err := e.warehouses.FetchWarehouseAccesses(gctx, ident.UserID)
		if err != nil {
			return fmt.Errorf("warehouse accesses: %w", err)
		}
		accesses = out
		return nil
	})
	if err := g.Wait(); err != nil {
		wrapped := fmt.Errorf("%w: %s", ErrScopeFetchFailed, err)
		e.mu.Lock()
		if e.ident == ident && seq > e.applied {
			e.lastErr = wrapped
		}
		e.mu.Unlock()
		obs.ScopeRefreshFailed()
		return wrapped
	}

	e.mu.Lock()
	if e.ident != ident || seq <= e.applied {
		e.mu.Unlock()
		obs.ScopeStaleDropped()
		return nil
	}
	e.applied = seq
	e.lastErr = nil
	e.approval = DeriveApproval(assignments)
	if e.approval == ApprovalApproved {
		e.scope = Compute(assignments, accesses, seq)
	} else {
		// Scope activation is blocked while the gate is pending/rejected.
		e.scope = DataScope{version: seq}
	}
	e.pubSeq++
	upd := Update{Identity: ident, Approval: e.approval, Scope: e.scope, Seq: e.pubSeq}
	e.mu.Unlock()

	obs.ScopeRecomputed()
	e.publish(upd)
	return nil
}

// Scope returns the current immutable data scope.
func (e *Engine) Scope() DataScope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope
}

// Approval returns the current gate state.
func (e *Engine) Approval() ApprovalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.approval
}

// Identity returns the identity the current scope belongs to.
func (e *Engine) Identity() identity.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ident
}

// LastError returns the retained transient failure, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Subscribe registers for scope updates. Slow subscribers only ever observe
// the latest update; intermediate ones may be conflated. The channel closes
// when ctx ends.
func (e *Engine) Subscribe(ctx context.Context) <-chan Update {
	ch := make(chan Update, 1)

	e.subMu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.subMu.Unlock()

	go func() {
		<-ctx.Done()
		e.subMu.Lock()
		delete(e.subs, id)
		close(ch)
		e.subMu.Unlock()
	}()

	return ch
}

func (e *Engine) publish(upd Update) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- upd:
		default:
			// Conflate to whichever update was published later. Publishers
			// race here after releasing e.mu, so the queued update may carry
			// a higher Seq than the incoming one and must be kept.
			latest := upd
		enqueue:
			for {
				select {
				case ch <- latest:
					break enqueue
				case queued := <-ch:
					if queued.Seq > latest.Seq {
						latest = queued
					}
				}
			}
		}
	}
}

func (e *Engine) setIdentity(parent context.Context, ident identity.Identity) {
	e.mu.Lock()
	if e.ident == ident && e.sessionCtx != nil {
		e.mu.Unlock()
		return
	}
	if e.sessionCancel != nil {
		e.sessionCancel()
	}
	sctx, cancel := context.WithCancel(parent)
	e.sessionCtx, e.sessionCancel = sctx, cancel
	e.ident = ident
	// Barrier: anything still in flight belongs to the old identity.
	e.applied = e.seq
	e.scope = DataScope{}
	e.approval = ApprovalUnknown
	e.lastErr = nil
	e.pubSeq++
	upd := Update{Identity: ident, Approval: ApprovalUnknown, Scope: DataScope{}, Seq: e.pubSeq}
	e.mu.Unlock()

	e.publish(upd)
	if ident.Ready {
		go func() { _ = e.Refresh(sctx) }()
	}
}
