package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/identity"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/selection"
)

type staticResolver struct {
	mu          sync.Mutex
	assignments []scope.RoleAssignment
	accesses    []scope.WarehouseAccess
}

func (r *staticResolver) FetchRoleAssignments(ctx context.Context, userID string) ([]scope.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scope.RoleAssignment(nil), r.assignments...), nil
}

func (r *staticResolver) FetchWarehouseAccesses(ctx context.Context, userID string) ([]scope.WarehouseAccess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scope.WarehouseAccess(nil), r.accesses...), nil
}

type refetchLog struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRefetchLog() *refetchLog { return &refetchLog{counts: make(map[string]int)} }

func (l *refetchLog) record(table string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[table]++
}

func (l *refetchLog) count(table string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[table]
}

type fixture struct {
	feed  *MemoryFeed
	rec   *Reconciler
	sel   *selection.Selection
	eng   *scope.Engine
	clock *clockwork.FakeClock
	log   *refetchLog
}

func newFixture(t *testing.T, tables ...string) *fixture {
	t.Helper()
	return newFixtureWith(t, tables)
}

func newFixtureWith(t *testing.T, tables []string, opts ...Option) *fixture {
	t.Helper()

	res := &staticResolver{
		assignments: []scope.RoleAssignment{{CompanyID: "C1", Role: scope.RoleAdmin, Status: scope.StatusApproved}},
		accesses: []scope.WarehouseAccess{
			{WarehouseID: "W1", CompanyID: "C1", Level: scope.AccessManage},
			{WarehouseID: "W2", CompanyID: "C1", Level: scope.AccessView},
		},
	}
	provider := identity.NewStaticProvider()
	eng := scope.NewEngine(provider, res, res)
	sel := selection.New(eng)
	feed := NewMemoryFeed()
	clock := clockwork.NewFakeClock()
	log := newRefetchLog()
	rec := New(feed, eng, sel, tables, log.record, append([]Option{WithClock(clock)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	go sel.Run(ctx)

	provider.SignIn("user-1")
	waitFor(t, func() bool {
		cur := sel.Current()
		return cur != nil && *cur == "W1"
	})

	go rec.Run(ctx)
	waitFor(t, func() bool {
		for _, table := range tables {
			if feed.Subscribers(table) != 1 {
				return false
			}
		}
		return true
	})

	return &fixture{feed: feed, rec: rec, sel: sel, eng: eng, clock: clock, log: log}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestCoalescesBurstIntoOneRefetch(t *testing.T) {
	f := newFixture(t, "orders")

	for i := 0; i < 5; i++ {
		f.feed.Publish(Event{Op: OpUpdate, Table: "orders", After: Row{CompanyID: "C1", WarehouseID: "W1"}})
	}

	// The first admitted event opens the coalescing window.
	f.clock.BlockUntil(1)
	f.clock.Advance(defaultWindow)

	waitFor(t, func() bool { return f.log.count("orders") == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := f.log.count("orders"); got != 1 {
		t.Fatalf("refetches = %d, want exactly 1", got)
	}
}

func TestOutOfScopeEventsProduceNothing(t *testing.T) {
	f := newFixture(t, "orders")

	f.feed.Publish(Event{Op: OpInsert, Table: "orders", After: Row{CompanyID: "C9", WarehouseID: "W9"}})

	// Chase with an admitted event so we can prove delivery completed.
	f.feed.Publish(Event{Op: OpUpdate, Table: "orders", After: Row{CompanyID: "C1", WarehouseID: "W1"}})
	f.clock.BlockUntil(1)
	f.clock.Advance(defaultWindow)

	waitFor(t, func() bool { return f.log.count("orders") == 1 })
	if got := f.log.count("orders"); got != 1 {
		t.Fatalf("refetches = %d, want 1 (out-of-scope event must not count)", got)
	}
}

func TestOwnInsertBypassesSelectionMismatch(t *testing.T) {
	f := newFixture(t, "shipments")

	// Selection is W1; the user's own action created a shipment in W2.
	f.feed.Publish(Event{Op: OpInsert, Table: "shipments", After: Row{CompanyID: "C1", WarehouseID: "W2", ActorID: "user-1"}})
	f.clock.BlockUntil(1)
	f.clock.Advance(defaultWindow)

	waitFor(t, func() bool { return f.log.count("shipments") == 1 })
}

func TestSelectionChangeSwapsSubscription(t *testing.T) {
	f := newFixture(t, "orders")
	gen := f.rec.Generation()

	w2 := "W2"
	if err := f.sel.Select(&w2); err != nil {
		t.Fatalf("Select: %v", err)
	}

	waitFor(t, func() bool { return f.rec.Generation() > gen })
	waitFor(t, func() bool { return f.feed.Subscribers("orders") == 1 })

	// Events for the old selection no longer admit.
	f.feed.Publish(Event{Op: OpUpdate, Table: "orders", After: Row{CompanyID: "C1", WarehouseID: "W1"}})
	f.feed.Publish(Event{Op: OpUpdate, Table: "orders", After: Row{CompanyID: "C1", WarehouseID: "W2"}})
	f.clock.BlockUntil(1)
	f.clock.Advance(defaultWindow)

	waitFor(t, func() bool { return f.log.count("orders") == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := f.log.count("orders"); got != 1 {
		t.Fatalf("refetches = %d, want 1", got)
	}
}

type closingFeed struct {
	mu     sync.Mutex
	closed bool
}

func (c *closingFeed) Subscribe(ctx context.Context, table string) (<-chan Event, error) {
	ch := make(chan Event)
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		close(ch)
	} else {
		go func() {
			<-ctx.Done()
			close(ch)
		}()
	}
	return ch, nil
}

func TestFeedLossSurfacesDisconnectedError(t *testing.T) {
	res := &staticResolver{
		assignments: []scope.RoleAssignment{{CompanyID: "C1", Role: scope.RoleAdmin, Status: scope.StatusApproved}},
		accesses:    []scope.WarehouseAccess{{WarehouseID: "W1", CompanyID: "C1", Level: scope.AccessView}},
	}
	provider := identity.NewStaticProvider()
	eng := scope.NewEngine(provider, res, res)
	sel := selection.New(eng)
	feed := &closingFeed{closed: true}
	rec := New(feed, eng, sel, []string{"orders"}, func(string) {})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	go sel.Run(ctx)
	provider.SignIn("user-1")
	waitFor(t, func() bool { return eng.Approval() == scope.ApprovalApproved })

	go rec.Run(ctx)
	waitFor(t, func() bool { return rec.Err() != nil })
	if !errors.Is(rec.Err(), scope.ErrRealtimeDisconnected) {
		t.Fatalf("err = %v, want ErrRealtimeDisconnected", rec.Err())
	}

	// Manual refresh clears the error and resyncs.
	feed.mu.Lock()
	feed.closed = false
	feed.mu.Unlock()
	rec.Refresh()
	if rec.Err() != nil {
		t.Fatalf("err after refresh = %v", rec.Err())
	}
}

func TestWindowOverrideControlsCoalescing(t *testing.T) {
	window := 50 * time.Millisecond
	f := newFixtureWith(t, []string{"orders"}, WithWindow(window))

	f.feed.Publish(Event{Op: OpUpdate, Table: "orders", After: Row{CompanyID: "C1", WarehouseID: "W1"}})
	f.clock.BlockUntil(1)

	// Half the window elapsed: the refetch is still pending.
	f.clock.Advance(window / 2)
	time.Sleep(20 * time.Millisecond)
	if got := f.log.count("orders"); got != 0 {
		t.Fatalf("refetch fired before the window closed: %d", got)
	}

	// The override, not the default window, closes the batch.
	f.clock.Advance(window / 2)
	waitFor(t, func() bool { return f.log.count("orders") == 1 })
}

func TestRefetchLimitCapsDispatch(t *testing.T) {
	// A bucket that never refills within the test: one refetch only.
	f := newFixtureWith(t, []string{"orders"}, WithRefetchLimit(0.001, 1))

	f.feed.Publish(Event{Op: OpUpdate, Table: "orders", After: Row{CompanyID: "C1", WarehouseID: "W1"}})
	f.clock.BlockUntil(1)
	f.clock.Advance(defaultWindow)
	waitFor(t, func() bool { return f.log.count("orders") == 1 })

	f.feed.Publish(Event{Op: OpUpdate, Table: "orders", After: Row{CompanyID: "C1", WarehouseID: "W1"}})
	f.clock.BlockUntil(1)
	f.clock.Advance(defaultWindow)

	time.Sleep(50 * time.Millisecond)
	if got := f.log.count("orders"); got != 1 {
		t.Fatalf("limiter admitted %d refetches, want 1", got)
	}
}
