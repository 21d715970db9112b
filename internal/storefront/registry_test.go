package storefront

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"imi-storefront/internal/backend"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/repository/token"
	"imi-storefront/internal/service/analytics"
	"imi-storefront/internal/service/identity"
	"imi-storefront/internal/tasks"
	"imi-storefront/internal/testkit/fakebackend"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, token.Repository, *fakebackend.Server, *clock.FakeClock) {
	t.Helper()
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	repo := token.NewMemory()
	clk := clock.Fake(epoch)
	reg := New(repo, backend.New(srv.URL(), 5*time.Second, nil), Options{
		Providers:    []string{"supabase", "firebase"},
		SyncAttempts: 2,
		SyncBackoff:  time.Millisecond,
		IdleTTL:      10 * time.Minute,
		Locale:       "en-IN",
		Clock:        clk,
		Tasks:        tasks.Inline{},
	})
	t.Cleanup(reg.Close)
	return reg, repo, srv, clk
}

func TestDeviceIsCreatedOnce(t *testing.T) {
	reg, _, _, _ := newRegistry(t)

	a, err := reg.Device("dev-1")
	require.NoError(t, err)
	b, err := reg.Device("dev-1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, ok := a.Provider("firebase")
	assert.True(t, ok)
	_, ok = a.Provider("auth0")
	assert.False(t, ok)

	_, err = reg.Device("")
	assert.Error(t, err)
}

func TestProviderPushSyncsToken(t *testing.T) {
	reg, repo, srv, _ := newRegistry(t)
	d, err := reg.Device("dev-1")
	require.NoError(t, err)

	p, _ := d.Provider("firebase")
	p.Set(&identity.Principal{ID: "fb-1", Email: "asha@example.com"})

	require.NotNil(t, d.Bridge.Identity())
	assert.Equal(t, "asha", d.Bridge.Identity().DisplayName)
	assert.Equal(t, []string{"asha@example.com|google"}, srv.SyncCalls())

	rec, err := repo.Get(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Token)
}

func TestTabLookup(t *testing.T) {
	reg, _, _, _ := newRegistry(t)

	tab, err := reg.OpenTab("dev-1")
	require.NoError(t, err)
	assert.Regexp(t, `^s_\d+_[0-9a-z]{8}$`, tab.SessionID)
	assert.Equal(t, tab.SessionID, tab.Analytics.SessionID())

	got, err := reg.Tab("dev-1", tab.SessionID)
	require.NoError(t, err)
	assert.Same(t, tab, got)

	_, err = reg.Tab("dev-2", tab.SessionID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = reg.Tab("dev-1", "s_0_missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, 1, reg.Tabs())
}

func TestSweepEvictsIdleTabs(t *testing.T) {
	reg, _, _, clk := newRegistry(t)

	idle, err := reg.OpenTab("dev-1")
	require.NoError(t, err)
	clk.Advance(6 * time.Minute)
	busy, err := reg.OpenTab("dev-2")
	require.NoError(t, err)
	clk.Advance(5 * time.Minute)

	assert.Equal(t, 1, reg.Sweep())
	_, err = reg.Tab("dev-1", idle.SessionID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = reg.Tab("dev-2", busy.SessionID)
	assert.NoError(t, err)
	assert.Equal(t, 1, reg.Tabs())
}

func TestChangeFeedReachesDeviceStore(t *testing.T) {
	reg, repo, _, _ := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Start(ctx))

	d, err := reg.Device("dev-1")
	require.NoError(t, err)
	signals, unsubscribe := d.Store.Subscribe()
	defer unsubscribe()

	// Another replica writing the same device.
	require.NoError(t, repo.Put(ctx, token.Record{DeviceID: "dev-1", Token: "tok-from-elsewhere"}))

	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatal("store was not invalidated by the change feed")
	}
	tok, err := d.Store.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-from-elsewhere", tok)
}

// droppingFeed serves one feed that the test closes, fails the next
// reconnect, then follows the wrapped repository.
type droppingFeed struct {
	token.Repository
	first chan string

	mu      sync.Mutex
	watches int
}

func (f *droppingFeed) Watch(ctx context.Context) (<-chan string, error) {
	f.mu.Lock()
	f.watches++
	n := f.watches
	f.mu.Unlock()
	switch n {
	case 1:
		return f.first, nil
	case 2:
		return nil, errors.New("connection refused")
	default:
		return f.Repository.Watch(ctx)
	}
}

func (f *droppingFeed) Watches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches
}

func TestChangeFeedReconnectsAfterDrop(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	repo := &droppingFeed{Repository: token.NewMemory(), first: make(chan string)}
	reg := New(repo, backend.New(srv.URL(), 5*time.Second, nil), Options{
		FeedRetry: time.Millisecond,
		Clock:     clock.Fake(epoch),
		Tasks:     tasks.Inline{},
	})
	t.Cleanup(reg.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Start(ctx))

	d, err := reg.Device("dev-1")
	require.NoError(t, err)
	signals, unsubscribe := d.Store.Subscribe()
	defer unsubscribe()

	close(repo.first)
	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatal("stores were not invalidated after the feed came back")
	}
	assert.Equal(t, 3, repo.Watches())

	require.NoError(t, repo.Put(ctx, token.Record{DeviceID: "dev-1", Token: "tok-after-reconnect"}))
	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatal("restored feed did not reach the device store")
	}
	tok, err := d.Store.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-after-reconnect", tok)
}

func TestPaymentDeviceLookup(t *testing.T) {
	reg, _, _, clk := newRegistry(t)
	d, err := reg.Device("dev-1")
	require.NoError(t, err)

	_, ok := reg.PaymentDevice("txn-1")
	assert.False(t, ok)

	reg.ExpectPayment("txn-1", "dev-1")
	got, ok := reg.PaymentDevice("txn-1")
	require.True(t, ok)
	assert.Same(t, d, got)

	clk.Advance(25 * time.Hour)
	_, ok = reg.PaymentDevice("txn-1")
	assert.False(t, ok, "stale returns are not matched")
}

func TestCloseFlushesAnalytics(t *testing.T) {
	reg, _, srv, _ := newRegistry(t)
	tab, err := reg.OpenTab("dev-1")
	require.NoError(t, err)

	tab.Analytics.PageView("/", analytics.Client{})
	reg.Close()

	assert.Equal(t, []int{1}, srv.BatchSizes())
	_, err = reg.OpenTab("dev-1")
	assert.Error(t, err)
}
