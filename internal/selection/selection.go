// Package selection owns the "currently viewed" warehouse. The selection is
// the only mutable state alongside the data scope itself: it is written here
// and by nobody else, validated against the active scope on every set, and
// forcibly reset when the scope shrinks underneath it.
package selection

import (
	"context"
	"fmt"
	"sync"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/obs"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
)

// Update is one published selection state.
type Update struct {
	// WarehouseID is nil for the all-warehouses view and empty-string for
	// "no selection" (scope grants no warehouse).
	WarehouseID *string
	// Scope is the data scope the selection was validated against.
	Scope scope.DataScope
	// Generation increments on every change so downstream refetches issued
	// under an older selection can be discarded on arrival.
	Generation uint64
	// Seq is the publish order assigned under the selection mutex. Conflation
	// compares it so a racing publisher cannot displace a newer queued update
	// with an older one.
	Seq uint64
}

// Selected reports the concrete warehouse, or ok=false for the aggregate view
// and the empty state.
func (u Update) Selected() (string, bool) {
	if u.WarehouseID == nil || *u.WarehouseID == "" {
		return "", false
	}
	return *u.WarehouseID, true
}

// Selection tracks the active warehouse with single-writer discipline.
type Selection struct {
	engine *scope.Engine

	mu         sync.Mutex
	current    *string
	generation uint64
	scope      scope.DataScope
	scopeSeq   uint64 // Seq of the last absorbed engine update
	pubSeq     uint64 // publish order for Update fan-out

	subMu sync.RWMutex
	subs  map[int]chan Update
	next  int
}

// New creates a selection bound to the scope engine. Run must be started for
// shrink reactions to fire.
func New(engine *scope.Engine) *Selection {
	return &Selection{
		engine: engine,
		subs:   make(map[int]chan Update),
	}
}

// Run applies scope updates until ctx ends, forcing reselection whenever the
// current warehouse falls out of scope.
func (s *Selection) Run(ctx context.Context) {
	ch := s.engine.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-ch:
			if !ok {
				return
			}
			s.applyScope(upd)
		}
	}
}

// Current returns the active selection value.
func (s *Selection) Current() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	v := *s.current
	return &v
}

// Generation returns the current selection generation.
func (s *Selection) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Select validates id against the active scope and applies it. nil selects
// the all-warehouses view, legal only when the scope permits viewing across
// warehouses. An invalid request is rejected with ErrOutOfScope and the
// previous selection is retained, with no partial update.
func (s *Selection) Select(id *string) error {
	s.mu.Lock()
	sc := s.scope
	if id == nil {
		if !sc.CanViewAllWarehouses() {
			s.mu.Unlock()
			return fmt.Errorf("%w: aggregate view requires multi-company admin", scope.ErrOutOfScope)
		}
	} else if !sc.HasWarehouseAccess(*id) {
		s.mu.Unlock()
		return fmt.Errorf("%w: warehouse %s", scope.ErrOutOfScope, *id)
	}
	upd := s.setLocked(id)
	s.mu.Unlock()

	s.publish(upd)
	return nil
}

// applyScope revalidates the selection against a replaced scope. Resetting an
// out-of-scope selection is a required reaction, not optional cleanup. Engine
// updates delivered out of order are dropped: a stale scope must never
// overwrite a newer one and leave an out-of-scope warehouse selected.
func (s *Selection) applyScope(eng scope.Update) {
	s.mu.Lock()
	if eng.Seq <= s.scopeSeq {
		s.mu.Unlock()
		return
	}
	s.scopeSeq = eng.Seq
	sc := eng.Scope
	s.scope = sc

	valid := true
	switch {
	case s.current == nil:
		valid = sc.CanViewAllWarehouses()
	case *s.current == "":
		// Empty state heals as soon as the scope grants anything.
		valid = len(sc.WarehouseIDs()) == 0 && !sc.CanViewAllWarehouses()
	default:
		valid = sc.HasWarehouseAccess(*s.current)
	}
	if valid {
		s.pubSeq++
		upd := Update{WarehouseID: s.current, Scope: sc, Generation: s.generation, Seq: s.pubSeq}
		s.mu.Unlock()
		s.publish(upd)
		return
	}

	upd := s.setLocked(defaultSelection(sc))
	s.mu.Unlock()

	obs.SelectionReset()
	s.publish(upd)
}

// defaultSelection picks nil when the aggregate view is permitted, else the
// first remaining warehouse, else the empty state.
func defaultSelection(sc scope.DataScope) *string {
	if sc.CanViewAllWarehouses() {
		return nil
	}
	ids := sc.WarehouseIDs()
	if len(ids) > 0 {
		return &ids[0]
	}
	empty := ""
	return &empty
}

func (s *Selection) setLocked(id *string) Update {
	s.current = id
	s.generation++
	s.pubSeq++
	return Update{WarehouseID: id, Scope: s.scope, Generation: s.generation, Seq: s.pubSeq}
}

// Subscribe registers for selection updates. Slow subscribers are conflated
// to the latest value; the channel closes when ctx ends.
func (s *Selection) Subscribe(ctx context.Context) <-chan Update {
	ch := make(chan Update, 1)

	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()

	return ch
}

func (s *Selection) publish(upd Update) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- upd:
		default:
			// Keep the later-published update when conflating; see the scope
			// engine's publish for the racing-publisher ordering.
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
