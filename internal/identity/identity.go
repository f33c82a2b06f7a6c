package identity

import (
	"context"
	"strings"
	"sync"
)

// Identity is the authenticated principal as seen by the scope core.
// Ready is false until the session layer has resolved the user.
type Identity struct {
	UserID string `json:"user_id"`
	Ready  bool   `json:"ready"`
}

// Anonymous is the zero identity used before sign-in and after sign-out.
var Anonymous = Identity{}

// Provider yields the current identity and notifies on sign-in/sign-out.
type Provider interface {
	Current() Identity
	// Subscribe registers for identity changes. The returned channel is
	// closed when the context ends.
	Subscribe(ctx context.Context) <-chan Identity
}

// StaticProvider is an in-process Provider driven by explicit SignIn and
// SignOut calls. It backs the daemon wiring (fed by the authn middleware)
// and tests.
type StaticProvider struct {
	mu      sync.RWMutex
	current Identity
	subs    map[int]chan Identity
	next    int
}

// NewStaticProvider starts signed out.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{subs: make(map[int]chan Identity)}
}

// Current returns the latest identity.
func (p *StaticProvider) Current() Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (p *StaticProvider) Subscribe(ctx context.Context) <-chan Identity {
	ch := make(chan Identity, 4)

	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subs, id)
		close(ch)
		p.mu.Unlock()
	}()

	return ch
}

// SignIn publishes a ready identity for userID.
func (p *StaticProvider) SignIn(userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	p.publish(Identity{UserID: userID, Ready: true})
}

// SignOut clears the identity and notifies subscribers.
func (p *StaticProvider) SignOut() {
	p.publish(Anonymous)
}

func (p *StaticProvider) publish(ident Identity) {
	p.mu.Lock()
	if p.current == ident {
		p.mu.Unlock()
		return
	}
	p.current = ident
	for _, ch := range p.subs {
		select {
		case ch <- ident:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
	p.mu.Unlock()
}
