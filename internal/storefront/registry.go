package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"imi-storefront/internal/backend"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/repository/token"
	"imi-storefront/internal/service/analytics"
	"imi-storefront/internal/service/cart"
	"imi-storefront/internal/service/checkout"
	"imi-storefront/internal/service/identity"
	"imi-storefront/internal/service/payment"
	"imi-storefront/internal/session"
	"imi-storefront/internal/tasks"
)

// Backend is the commerce API surface the registry hands to its engines.
type Backend interface {
	SyncIdentity(ctx context.Context, in backend.SyncRequest) (backend.SyncResponse, error)
	GetCart(ctx context.Context, token string) (domain.Cart, error)
	AddToCart(ctx context.Context, token string, in backend.AddItemRequest) (domain.Cart, error)
	UpdateCartItem(ctx context.Context, token string, key domain.LineKey, quantity int) (domain.Cart, error)
	RemoveCartItem(ctx context.Context, token string, key domain.LineKey) (domain.Cart, error)
	ClearCart(ctx context.Context, token string) (domain.Cart, error)
	RecoverCart(ctx context.Context, sessionID string) error
	CreatePayment(ctx context.Context, token string, in backend.PaymentRequest) (backend.PaymentResponse, error)
	TrackEvent(ctx context.Context, event domain.AnalyticsEvent) error
	TrackBatch(ctx context.Context, events []domain.AnalyticsEvent) error
}

// Options configures a Registry. Zero values take the defaults of the
// individual components.
type Options struct {
	Providers    []string
	SyncAttempts int
	SyncBackoff  time.Duration
	CallTimeout  time.Duration
	PollInterval time.Duration
	FlushDelay   time.Duration
	BatchSize    int
	IdleTTL      time.Duration
	FeedRetry    time.Duration
	Locale       string
	Clock        clock.Clock
	Tasks        tasks.Runner
	Logger       *log.Logger
}

// Device is one browser: a durable session token shared by all its tabs
// and the identity bridge that writes it.
type Device struct {
	ID        string
	Store     *session.Store
	Bridge    *identity.Bridge
	providers map[string]*identity.PushProvider

	lastSeen time.Time
	tabs     map[string]*Tab
}

// Provider returns the push provider registered under name.
func (d *Device) Provider(name string) (*identity.PushProvider, bool) {
	p, ok := d.providers[name]
	return p, ok
}

// Tab is one open page session of a device.
type Tab struct {
	SessionID string
	Device    *Device
	Cart      *cart.Engine
	Checkout  *checkout.Machine
	Analytics *analytics.Tracker

	batcher  *analytics.Batcher
	cancel   context.CancelFunc
	done     chan struct{}
	lastSeen time.Time
}

func (t *Tab) close() {
	t.cancel()
	<-t.done
	t.batcher.Close()
}

// Registry owns every live device and tab of this process.
type Registry struct {
	repo    token.Repository
	client  Backend
	gateway *payment.Gateway
	opts    Options
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	devices  map[string]*Device
	payments map[string]pendingPayment // by txnid
	closed   bool
}

// pendingPayment remembers which device handed a transaction to the
// gateway, so the return page can find it without the device cookie.
type pendingPayment struct {
	deviceID string
	at       time.Time
}

// paymentReturnTTL bounds how long a gateway return is matched to its device.
const paymentReturnTTL = 24 * time.Hour

func New(repo token.Repository, client Backend, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Tasks == nil {
		opts.Tasks = tasks.Reject{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if len(opts.Providers) == 0 {
		opts.Providers = []string{"supabase", "firebase"}
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.FeedRetry <= 0 {
		opts.FeedRetry = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		repo:     repo,
		client:   client,
		gateway:  payment.NewGateway(client, opts.Tasks, opts.Logger),
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		devices:  map[string]*Device{},
		payments: map[string]pendingPayment{},
	}
}

// Start follows the token store's change feed and routes every changed
// device id to its store. Stores without a feed rely on tab polling alone.
// A feed that drops is re-opened with backoff until ctx is done.
func (r *Registry) Start(ctx context.Context) error {
	changes, err := r.repo.Watch(ctx)
	if errors.Is(err, token.ErrWatchUnsupported) {
		r.logger.Printf("storefront: change feed unsupported, polling only")
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch session store: %w", err)
	}
	go r.follow(ctx, changes)
	return nil
}

func (r *Registry) follow(ctx context.Context, changes <-chan string) {
	for {
		for id := range changes {
			r.mu.Lock()
			d := r.devices[id]
			r.mu.Unlock()
			if d != nil {
				d.Store.Invalidate()
			}
		}
		if ctx.Err() != nil {
			return
		}

		r.logger.Printf("storefront: change feed lost, reconnecting")
		next, err := backoff.Retry(ctx, func() (<-chan string, error) {
			return r.repo.Watch(ctx)
		},
			backoff.WithBackOff(&backoff.ExponentialBackOff{
				InitialInterval:     r.opts.FeedRetry,
				RandomizationFactor: backoff.DefaultRandomizationFactor,
				Multiplier:          2,
				MaxInterval:         30 * time.Second,
			}),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, wait time.Duration) {
				r.logger.Printf("storefront: change feed reconnect failed retry_in=%s error=%v", wait, err)
			}),
		)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Printf("storefront: change feed abandoned, polling only error=%v", err)
			}
			return
		}
		r.logger.Printf("storefront: change feed restored")
		// Writes made while the feed was down were never announced.
		r.invalidateAll()
		changes = next
	}
}

func (r *Registry) invalidateAll() {
	r.mu.Lock()
	devices := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.Unlock()
	for _, d := range devices {
		d.Store.Invalidate()
	}
}

// Device returns the device with id, creating it on first use.
func (r *Registry) Device(id string) (*Device, error) {
	if id == "" {
		return nil, errors.New("device id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("registry closed")
	}
	if d, ok := r.devices[id]; ok {
		d.lastSeen = r.opts.Clock.Now()
		return d, nil
	}

	store := session.NewStore(id, r.repo, r.opts.Clock, r.logger)
	providers := make([]identity.Provider, 0, len(r.opts.Providers))
	byName := make(map[string]*identity.PushProvider, len(r.opts.Providers))
	for _, name := range r.opts.Providers {
		p := identity.NewPushProvider(name)
		providers = append(providers, p)
		byName[name] = p
	}
	bridge := identity.NewBridge(providers, store, r.client, identity.Options{
		Attempts:    r.opts.SyncAttempts,
		Backoff:     r.opts.SyncBackoff,
		CallTimeout: r.opts.CallTimeout,
		Tasks:       r.opts.Tasks,
		Logger:      r.logger,
	})
	bridge.Start(r.ctx)

	d := &Device{
		ID:        id,
		Store:     store,
		Bridge:    bridge,
		providers: byName,
		lastSeen:  r.opts.Clock.Now(),
		tabs:      map[string]*Tab{},
	}
	r.devices[id] = d
	r.logger.Printf("storefront: device created device_id=%s", id)
	return d, nil
}

// OpenTab starts a new tab session on the device and its cart engine.
func (r *Registry) OpenTab(deviceID string) (*Tab, error) {
	d, err := r.Device(deviceID)
	if err != nil {
		return nil, err
	}
	sid := session.NewSessionID(r.opts.Clock)

	batcher := analytics.NewBatcher(r.client, r.opts.Tasks, r.opts.Clock, analytics.BatcherOptions{
		Delay:  r.opts.FlushDelay,
		Size:   r.opts.BatchSize,
		Logger: r.logger,
	})
	engine := cart.New(d.Store, r.client, r.opts.Clock, r.opts.PollInterval, r.logger)
	engine.OnUnauthorized(d.Bridge.Reject)
	machine := checkout.NewMachine(checkout.Deps{
		Tokens:   d.Bridge,
		Payments: r.client,
		Cart:     engine,
		Gateway:  r.gateway,
		Locale:   r.opts.Locale,
		Logger:   r.logger,
	}, sid)
	tracker := analytics.NewTracker(sid, analytics.TrackerDeps{
		Queue:  batcher,
		Beacon: r.client,
		Tasks:  r.opts.Tasks,
		Clock:  r.opts.Clock,
		UserID: func() string {
			if id := d.Bridge.Identity(); id != nil {
				return id.ID
			}
			return ""
		},
		Logger: r.logger,
	})

	ctx, cancel := context.WithCancel(r.ctx)
	t := &Tab{
		SessionID: sid,
		Device:    d,
		Cart:      engine,
		Checkout:  machine,
		Analytics: tracker,
		batcher:   batcher,
		cancel:    cancel,
		done:      make(chan struct{}),
		lastSeen:  r.opts.Clock.Now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, errors.New("registry closed")
	}
	d.tabs[sid] = t
	r.mu.Unlock()

	go func() {
		defer close(t.done)
		engine.Run(ctx)
	}()
	r.logger.Printf("storefront: tab opened device_id=%s session_id=%s", deviceID, sid)
	return t, nil
}

// Tab returns the device's tab with sessionID. A tab of another device is
// reported as not found.
func (r *Registry) Tab(deviceID, sessionID string) (*Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("tab %s: %w", sessionID, domain.ErrNotFound)
	}
	t, ok := d.tabs[sessionID]
	if !ok {
		return nil, fmt.Errorf("tab %s: %w", sessionID, domain.ErrNotFound)
	}
	now := r.opts.Clock.Now()
	t.lastSeen = now
	d.lastSeen = now
	return t, nil
}

// DeviceTabs returns the open tabs of a device.
func (r *Registry) DeviceTabs(deviceID string) []*Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil
	}
	out := make([]*Tab, 0, len(d.tabs))
	for _, t := range d.tabs {
		out = append(out, t)
	}
	return out
}

// Tabs reports the number of open tabs.
func (r *Registry) Tabs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.devices {
		n += len(d.tabs)
	}
	return n
}

// ExpectPayment records that deviceID sent txnID to the gateway.
func (r *Registry) ExpectPayment(txnID, deviceID string) {
	if txnID == "" || deviceID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[txnID] = pendingPayment{deviceID: deviceID, at: r.opts.Clock.Now()}
}

// PaymentDevice returns the device that started txnID. A device evicted
// since then is recreated; its durable token is still in the store.
func (r *Registry) PaymentDevice(txnID string) (*Device, bool) {
	if txnID == "" {
		return nil, false
	}
	r.mu.Lock()
	p, ok := r.payments[txnID]
	r.mu.Unlock()
	if !ok || r.opts.Clock.Now().Sub(p.at) > paymentReturnTTL {
		return nil, false
	}
	d, err := r.Device(p.deviceID)
	if err != nil {
		return nil, false
	}
	return d, true
}

// Sweep closes tabs idle for longer than the idle TTL, then forgets devices
// left with no tabs that are idle as well. A forgotten device keeps its
// durable token; its identity is rebuilt from the next provider push.
func (r *Registry) Sweep() int {
	cutoff := r.opts.Clock.Now().Add(-r.opts.IdleTTL)

	var stale []*Tab
	var gone []*Device
	r.mu.Lock()
	for id, d := range r.devices {
		for sid, t := range d.tabs {
			if t.lastSeen.Before(cutoff) {
				stale = append(stale, t)
				delete(d.tabs, sid)
			}
		}
		if len(d.tabs) == 0 && d.lastSeen.Before(cutoff) {
			gone = append(gone, d)
			delete(r.devices, id)
		}
	}
	expired := r.opts.Clock.Now().Add(-paymentReturnTTL)
	for txn, p := range r.payments {
		if p.at.Before(expired) {
			delete(r.payments, txn)
		}
	}
	r.mu.Unlock()

	for _, t := range stale {
		t.close()
		r.logger.Printf("storefront: tab evicted device_id=%s session_id=%s", t.Device.ID, t.SessionID)
	}
	for _, d := range gone {
		d.Bridge.Close()
	}
	return len(stale)
}

// RunSweeper sweeps every half idle TTL until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := r.opts.Clock.NewTicker(r.opts.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Printf("storefront: sweep evicted=%d", n)
			}
		}
	}
}

// Close stops every tab, flushing pending analytics, and detaches the
// identity bridges. The registry rejects new devices afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	devices := r.devices
	r.devices = map[string]*Device{}
	r.mu.Unlock()

	for _, d := range devices {
		for _, t := range d.tabs {
			t.close()
		}
		d.Bridge.Close()
	}
	r.cancel()
}
