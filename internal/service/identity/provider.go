package identity

import (
	"context"
	"sync"
)

// Principal is the signed-in user an identity provider reports.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Provider is one external identity provider, as seen by the bridge.
type Provider interface {
	Name() string
	// SignInMethod is the label sent to the backend as the sync provider.
	SignInMethod() string
	// OnChange registers fn for principal changes; nil means signed out.
	OnChange(fn func(*Principal)) (unsubscribe func())
	CurrentPrincipal() *Principal
	SignOut(ctx context.Context) error
}

// SignInMethodFor maps a provider name to the method label the backend expects.
func SignInMethodFor(name string) string {
	switch name {
	case "firebase":
		return "google"
	default:
		return name
	}
}

// PushProvider mirrors a provider whose state lives in the browser SDK. The
// browser pushes every state change through Set.
type PushProvider struct {
	name   string
	method string

	mu        sync.Mutex
	current   *Principal
	listeners map[int]func(*Principal)
	nextID    int
}

func NewPushProvider(name string) *PushProvider {
	return &PushProvider{
		name:      name,
		method:    SignInMethodFor(name),
		listeners: map[int]func(*Principal){},
	}
}

func (p *PushProvider) Name() string         { return p.name }
func (p *PushProvider) SignInMethod() string { return p.method }

func (p *PushProvider) CurrentPrincipal() *Principal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	cp := *p.current
	return &cp
}

func (p *PushProvider) OnChange(fn func(*Principal)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Set replaces the principal and notifies listeners outside the lock.
func (p *PushProvider) Set(principal *Principal) {
	var cp *Principal
	if principal != nil {
		v := *principal
		cp = &v
	}
	p.mu.Lock()
	p.current = cp
	fns := make([]func(*Principal), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(cp)
	}
}

func (p *PushProvider) SignOut(context.Context) error {
	p.Set(nil)
	return nil
}
