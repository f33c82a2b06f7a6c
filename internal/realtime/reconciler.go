package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/obs"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/selection"
)

const defaultWindow = 250 * time.Millisecond

// RefetchFunc is invoked at most once per coalescing window per table.
type RefetchFunc func(table string)

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithClock injects a clock; tests drive the coalescing window with a fake.
func WithClock(c clockwork.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithWindow overrides the coalescing window.
func WithWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithRefetchLimit caps dispatched refetches with a token bucket, guarding
// the backend against refetch storms.
func WithRefetchLimit(perSecond float64, burst int) Option {
	return func(r *Reconciler) { r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// Reconciler subscribes each configured table to the change feed with a
// predicate derived from the current scope and selection, coalesces admitted
// events and forwards them as refetch signals. On every scope or selection
// change the old subscription is cancelled before the new one starts; a
// generation counter discards anything still in flight for the old context.
type Reconciler struct {
	feed    Feed
	engine  *scope.Engine
	sel     *selection.Selection
	tables  []string
	refetch RefetchFunc

	clock   clockwork.Clock
	window  time.Duration
	limiter *rate.Limiter

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	runCtx     context.Context
	lastErr    error
}

// New wires a reconciler over the given tables.
func New(feed Feed, engine *scope.Engine, sel *selection.Selection, tables []string, refetch RefetchFunc, opts ...Option) *Reconciler {
	r := &Reconciler{
		feed:    feed,
		engine:  engine,
		sel:     sel,
		tables:  append([]string(nil), tables...),
		refetch: refetch,
		clock:   clockwork.NewRealClock(),
		window:  defaultWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run follows selection updates (which also fire on scope replacement) until
// ctx ends, swapping subscriptions as the predicate changes.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()

	updates := r.sel.Subscribe(ctx)
	r.resubscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			r.stop()
			return
		case _, ok := <-updates:
			if !ok {
				r.stop()
				return
			}
			r.resubscribe(ctx)
		}
	}
}

// Err returns the retained transport failure, if any.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Refresh is the manual recovery path after a feed loss: it rebuilds all
// subscriptions and triggers one refetch per table so providers resync.
func (r *Reconciler) Refresh() {
	r.mu.Lock()
	parent := r.runCtx
	r.lastErr = nil
	r.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}
	r.resubscribe(parent)
	for _, table := range r.tables {
		obs.RealtimeRefetch(table)
		if r.refetch != nil {
			r.refetch(table)
		}
	}
}

// Generation returns the active subscription generation.
func (r *Reconciler) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *Reconciler) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.generation++
}

func (r *Reconciler) resubscribe(parent context.Context) {
	r.mu.Lock()
	// Old predicate/channel goes away before the new one subscribes.
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.generation++
	gen := r.generation

	ident := r.engine.Identity()
	approval := r.engine.Approval()
	if !ident.Ready || approval != scope.ApprovalApproved {
		r.mu.Unlock()
		return
	}
	pred := Predicate{
		UserID:    ident.UserID,
		Scope:     r.engine.Scope(),
		Warehouse: r.sel.Current(),
	}

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	for _, table := range r.tables {
		go r.watchTable(ctx, gen, table, pred)
	}
	r.mu.Unlock()
}

func (r *Reconciler) watchTable(ctx context.Context, gen uint64, table string, pred Predicate) {
	ch, err := r.feed.Subscribe(ctx, table)
	if err != nil {
		r.markDisconnected(fmt.Errorf("subscribe %s: %v", table, err))
		return
	}

	var (
		timer   clockwork.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					r.markDisconnected(fmt.Errorf("feed closed for %s", table))
				}
				return
			}
			if !pred.Admit(evt) {
				obs.RealtimeEvent(table, "discarded")
				continue
			}
			if timer == nil {
				obs.RealtimeEvent(table, "accepted")
				timer = r.clock.NewTimer(r.window)
				timerCh = timer.Chan()
			} else {
				obs.RealtimeEvent(table, "coalesced")
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			r.dispatch(gen, table)
		}
	}
}

func (r *Reconciler) dispatch(gen uint64, table string) {
	r.mu.Lock()
	current := gen == r.generation
	r.mu.Unlock()
	if !current {
		// The selection context changed while this window was open.
		obs.RealtimeEvent(table, "discarded")
		return
	}
	if r.limiter != nil && !r.limiter.Allow() {
		return
	}
	obs.RealtimeRefetch(table)
	if r.refetch != nil {
		r.refetch(table)
	}
}

func (r *Reconciler) markDisconnected(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = fmt.Errorf("%w: %s", scope.ErrRealtimeDisconnected, cause)
}
