// Package providers activates scope-dependent data providers in a fixed
// order. Every stage gates on all predecessors being ready and on the
// approval gate, so no provider ever fetches with an absent or stale scope.
// Stages sharing a branch group start together and fail independently.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/obs"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
)

// StageID names one provider stage.
type StageID string

const (
	StageOnboarding      StageID = "onboarding"
	StageWarehouseAccess StageID = "warehouse_access"
	StageEmployeeProfile StageID = "employee_profile"
	StageClients         StageID = "clients"
	StageTasks           StageID = "tasks"
	StageBilling         StageID = "billing"
	StageWorkflow        StageID = "workflow"
	StageOrders          StageID = "orders"
	StageInventory       StageID = "inventory"
)

// activationOrder is the fixed stage sequence. Clients, tasks and billing
// share one scope boundary and start together.
var activationOrder = [][]StageID{
	{StageOnboarding},
	{StageWarehouseAccess},
	{StageEmployeeProfile},
	{StageClients, StageTasks, StageBilling},
	{StageWorkflow},
	{StageOrders},
	{StageInventory},
}

// InitFunc performs a stage's initial data fetch.
type InitFunc func(ctx context.Context) error

// Status is one stage's externally visible state.
type Status struct {
	Ready   bool   `json:"ready"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type stageState struct {
	ready   bool
	skipped bool
	err     error
}

// Graph owns stage activation for one session.
type Graph struct {
	engine *scope.Engine
	caps   scope.Capabilities
	inits  map[StageID]InitFunc

	mu     sync.Mutex
	states map[StageID]*stageState

	kick chan struct{}
}

// New builds a graph. Stages without an init hook become ready immediately
// when their turn comes.
func New(engine *scope.Engine, caps scope.Capabilities, inits map[StageID]InitFunc) *Graph {
	g := &Graph{
		engine: engine,
		caps:   caps,
		inits:  inits,
		states: make(map[StageID]*stageState),
		kick:   make(chan struct{}, 1),
	}
	g.resetLocked()
	return g
}

// Run drives activation from scope updates until ctx ends. Approval loss or
// identity change tears the whole tree down.
func (g *Graph) Run(ctx context.Context) {
	updates := g.engine.Subscribe(ctx)

	var (
		sessionCtx    context.Context
		sessionCancel context.CancelFunc
	)
	stopSession := func() {
		if sessionCancel != nil {
			sessionCancel()
			sessionCancel = nil
			sessionCtx = nil
		}
	}
	defer stopSession()

	apply := func(approved bool) {
		if approved {
			if sessionCtx == nil {
				sessionCtx, sessionCancel = context.WithCancel(ctx)
				go g.loop(sessionCtx)
			}
			return
		}
		stopSession()
		g.mu.Lock()
		g.resetLocked()
		g.mu.Unlock()
	}

	apply(g.engine.Approval() == scope.ApprovalApproved)
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			apply(upd.Approval == scope.ApprovalApproved && upd.Identity.Ready)
		}
	}
}

// Retry re-runs one failed branch without touching its siblings.
func (g *Graph) Retry(id StageID) error {
	g.mu.Lock()
	st, ok := g.states[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("unknown stage %s", id)
	}
	if st.err == nil {
		g.mu.Unlock()
		return nil
	}
	st.err = nil
	g.mu.Unlock()

	select {
	case g.kick <- struct{}{}:
	default:
	}
	return nil
}

// Ready reports whether the stage finished its initial fetch.
func (g *Graph) Ready(id StageID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[id]
	return ok && st.ready
}

// Err returns the stage's contained fault, if any.
func (g *Graph) Err(id StageID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[id]; ok {
		return st.err
	}
	return nil
}

// Statuses returns every stage's state keyed by id.
func (g *Graph) Statuses() map[StageID]Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[StageID]Status, len(g.states))
	for id, st := range g.states {
		s := Status{Ready: st.ready, Skipped: st.skipped}
		if st.err != nil {
			s.Error = st.err.Error()
		}
		out[id] = s
	}
	return out
}

// StageIDs returns all stage ids in activation order.
func StageIDs() []StageID {
	var out []StageID
	for _, group := range activationOrder {
		out = append(out, group...)
	}
	return out
}

func (g *Graph) loop(ctx context.Context) {
	for {
		g.advance(ctx)
		select {
		case <-ctx.Done():
			return
		case <-g.kick:
		}
	}
}

// advance walks the activation order, running every group whose
// predecessors are all ready. A faulted branch blocks the groups behind it
// until Retry clears it; its siblings still complete.
func (g *Graph) advance(ctx context.Context) {
	for _, group := range activationOrder {
		var pending []StageID
		blocked := false

		g.mu.Lock()
		for _, id := range group {
			st := g.states[id]
			switch {
			case st.ready:
			case st.err != nil:
				blocked = true
			default:
				pending = append(pending, id)
			}
		}
		g.mu.Unlock()

		if len(pending) > 0 {
			var wg sync.WaitGroup
			for _, id := range pending {
				wg.Add(1)
				go func(id StageID) {
					defer wg.Done()
					g.activate(ctx, id)
				}(id)
			}
			wg.Wait()
		}

		g.mu.Lock()
		for _, id := range group {
			st := g.states[id]
			if !st.ready {
				blocked = true
			}
		}
		g.mu.Unlock()

		if blocked || ctx.Err() != nil {
			return
		}
	}
}

func (g *Graph) activate(ctx context.Context, id StageID) {
	init := g.inits[id]
	var err error
	if init != nil {
		err = init(ctx)
	}

	g.mu.Lock()
	// Re-checked under the lock: teardown may land between the init
	// returning and the lock acquisition, and a stage that was just reset
	// must not be marked ready by a zombie activation.
	if ctx.Err() != nil {
		g.mu.Unlock()
		return
	}
	st := g.states[id]
	if err != nil {
		st.err = fmt.Errorf("%w: %s: %s", scope.ErrBranchFault, id, err)
		g.mu.Unlock()
		return
	}
	st.ready = true
	g.mu.Unlock()

	obs.StageReady(string(id), true)
}

// resetLocked reinstalls the initial stage states. Disabled capabilities are
// marked skipped-and-ready so successors are not held hostage by features the
// backend has not provisioned.
func (g *Graph) resetLocked() {
	for _, id := range StageIDs() {
		st := &stageState{}
		switch id {
		case StageBilling:
			if !g.caps.BillingEnabled {
				st.skipped = true
				st.ready = true
			}
		case StageWorkflow:
			if !g.caps.WorkflowEnabled {
				st.skipped = true
				st.ready = true
			}
		}
		g.states[id] = st
		obs.StageReady(string(id), st.ready)
	}
}
