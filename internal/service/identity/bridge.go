package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"imi-storefront/internal/backend"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/tasks"
)

type syncer interface {
	SyncIdentity(ctx context.Context, in backend.SyncRequest) (backend.SyncResponse, error)
}

type tokenStore interface {
	Token(ctx context.Context) (string, error)
	Save(ctx context.Context, token, provider string) error
	Clear(ctx context.Context) error
}

// Options tunes the sync retry policy. CallTimeout is the backend's
// per-request timeout; background syncs get enough time for every attempt
// to use all of it plus the waits in between.
type Options struct {
	Attempts    int
	Backoff     time.Duration
	CallTimeout time.Duration
	Tasks       tasks.Runner
	Logger      *log.Logger
}

// Bridge reconciles the configured providers into one identity and keeps
// the device's backend session token in step with it.
type Bridge struct {
	providers []Provider
	store     tokenStore
	backend   syncer
	attempts  int
	unit      time.Duration
	budget    time.Duration
	tasks     tasks.Runner
	logger    *log.Logger
	flight    singleflight.Group

	mu         sync.Mutex
	ctx        context.Context
	current    *domain.Identity
	method     string
	generation uint64
	unsubs     []func()
}

// NewBridge takes providers highest priority first.
func NewBridge(providers []Provider, store tokenStore, client syncer, opts Options) *Bridge {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 1500 * time.Millisecond
	}
	if opts.Tasks == nil {
		opts.Tasks = tasks.Inline{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Bridge{
		providers: providers,
		store:     store,
		backend:   client,
		attempts:  opts.Attempts,
		unit:      opts.Backoff,
		budget:    SyncBudget(opts.Attempts, opts.Backoff, opts.CallTimeout),
		tasks:     opts.Tasks,
		logger:    opts.Logger,
		ctx:       context.Background(),
	}
}

// SyncBudget is the time a full retry sequence can take: every attempt
// running to callTimeout plus the linear waits between attempts. It is zero
// when callTimeout is unknown.
func SyncBudget(attempts int, unit, callTimeout time.Duration) time.Duration {
	if callTimeout <= 0 || attempts < 1 {
		return 0
	}
	waits := time.Duration(attempts*(attempts-1)/2) * unit
	return time.Duration(attempts)*callTimeout + waits
}

// Start subscribes to every provider and computes the initial identity.
// ctx bounds the token writes triggered by provider callbacks.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	for _, p := range b.providers {
		b.unsubs = append(b.unsubs, p.OnChange(func(*Principal) { b.reconcile() }))
	}
	b.mu.Unlock()
	b.reconcile()
}

// Close drops provider subscriptions.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Identity returns a copy of the canonical identity, or nil when signed out.
func (b *Bridge) Identity() *domain.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	cp := *b.current
	return &cp
}

// Authenticated is true as soon as any provider reports a principal,
// whether or not a backend token exists yet.
func (b *Bridge) Authenticated() bool {
	return b.Identity() != nil
}

func (b *Bridge) canonical() (*domain.Identity, string) {
	for _, p := range b.providers {
		pr := p.CurrentPrincipal()
		if pr == nil {
			continue
		}
		name := strings.TrimSpace(pr.DisplayName)
		if name == "" && pr.Email != "" {
			name = strings.Split(pr.Email, "@")[0]
		}
		return &domain.Identity{
			ID:          pr.ID,
			Email:       pr.Email,
			DisplayName: name,
			Provider:    p.Name(),
		}, p.SignInMethod()
	}
	return nil, ""
}

func (b *Bridge) reconcile() {
	next, method := b.canonical()

	b.mu.Lock()
	if b.current.Same(next) {
		b.current = next
		b.mu.Unlock()
		return
	}
	b.current = next
	b.method = method
	b.generation++
	gen := b.generation
	ctx := b.ctx
	b.mu.Unlock()

	if next == nil {
		if err := b.store.Clear(ctx); err != nil {
			b.logger.Printf("identity bridge: clear token on sign-out error=%v", err)
		}
		return
	}
	if next.Email == "" {
		return
	}
	id := *next
	accepted := tasks.GoTimeout(b.tasks, "identity-sync", b.budget, func(ctx context.Context) error {
		if _, err := b.sync(ctx, gen, id, method); err != nil {
			b.logger.Printf("identity bridge: sync abandoned email=%s error=%v", id.Email, err)
		}
		return nil
	})
	if !accepted {
		b.logger.Printf("identity bridge: sync not scheduled email=%s", id.Email)
	}
}

// EnsureToken returns the device token, running the sync in the caller when
// a signed-in identity has none.
func (b *Bridge) EnsureToken(ctx context.Context) (string, error) {
	tok, err := b.store.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok != "" {
		return tok, nil
	}

	b.mu.Lock()
	cur := b.current
	gen := b.generation
	method := b.method
	b.mu.Unlock()
	if cur == nil {
		return "", domain.ErrNoSession
	}
	if cur.Email == "" {
		return "", fmt.Errorf("identity has no email: %w", domain.ErrAuthRequired)
	}
	return b.sync(ctx, gen, *cur, method)
}

// sync is shared between concurrent callers for the same identity
// generation. The token is only saved if the identity has not changed
// since the sync began.
func (b *Bridge) sync(ctx context.Context, gen uint64, id domain.Identity, method string) (string, error) {
	key := fmt.Sprintf("%d|%s", gen, strings.ToLower(id.Email))
	v, err, _ := b.flight.Do(key, func() (any, error) {
		req := backend.SyncRequest{Email: id.Email, Name: id.DisplayName, Provider: method}
		attempt := 0
		tok, err := backoff.Retry(ctx, func() (string, error) {
			attempt++
			res, err := b.backend.SyncIdentity(ctx, req)
			if err != nil {
				return "", err
			}
			return res.Token, nil
		},
			backoff.WithBackOff(&linearBackOff{unit: b.unit}),
			backoff.WithMaxTries(uint(b.attempts)),
			backoff.WithNotify(func(err error, wait time.Duration) {
				b.logger.Printf("identity bridge: sync attempt=%d failed retry_in=%s error=%v", attempt, wait, err)
			}),
		)
		if err != nil {
			return "", err
		}

		b.mu.Lock()
		stale := b.generation != gen
		b.mu.Unlock()
		if stale {
			return "", errors.New("identity changed during sync")
		}
		if err := b.store.Save(ctx, tok, method); err != nil {
			return "", err
		}
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Reject is called when the backend refused tok. If tok is still the
// stored token it is cleared and a fresh sync is scheduled for the signed-in
// identity, so the next request finds a valid token. The failed request is
// not retried here.
func (b *Bridge) Reject(ctx context.Context, tok string) {
	cur, err := b.store.Token(ctx)
	if err != nil {
		b.logger.Printf("identity bridge: read token on reject error=%v", err)
		return
	}
	if tok == "" || cur != tok {
		return
	}
	if err := b.store.Clear(ctx); err != nil {
		b.logger.Printf("identity bridge: clear rejected token error=%v", err)
		return
	}

	b.mu.Lock()
	current := b.current
	gen := b.generation
	method := b.method
	b.mu.Unlock()
	if current == nil || current.Email == "" {
		return
	}
	id := *current
	b.logger.Printf("identity bridge: token rejected, resyncing email=%s", id.Email)
	accepted := tasks.GoTimeout(b.tasks, "identity-resync", b.budget, func(ctx context.Context) error {
		if _, err := b.sync(ctx, gen, id, method); err != nil {
			b.logger.Printf("identity bridge: resync abandoned email=%s error=%v", id.Email, err)
		}
		return nil
	})
	if !accepted {
		b.logger.Printf("identity bridge: resync not scheduled email=%s", id.Email)
	}
}

// SignOut clears the token, then signs out of every provider concurrently.
// A provider failure is logged and does not stop the others.
func (b *Bridge) SignOut(ctx context.Context) error {
	clearErr := b.store.Clear(ctx)
	if clearErr != nil {
		b.logger.Printf("identity bridge: clear token error=%v", clearErr)
	}

	var g errgroup.Group
	for _, p := range b.providers {
		g.Go(func() error {
			if err := p.SignOut(ctx); err != nil {
				b.logger.Printf("identity bridge: provider=%s sign-out error=%v", p.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	b.reconcile()
	return clearErr
}
