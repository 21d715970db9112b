package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"imi-storefront/internal/backend"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/repository/token"
	"imi-storefront/internal/session"
	"imi-storefront/internal/testkit/fakebackend"
)

type stubReader struct {
	mu  sync.Mutex
	tok string
	ch  chan struct{}
}

func (s *stubReader) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok, nil
}

func (s *stubReader) Subscribe() (<-chan struct{}, func()) {
	if s.ch == nil {
		s.ch = make(chan struct{}, 1)
	}
	return s.ch, func() {}
}

func (s *stubReader) set(tok string) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
}

type stubClient struct {
	mu          sync.Mutex
	getResults  []chan domain.Cart
	getCalls    int
	addCart     domain.Cart
	addErr      error
	lastAdd     backend.AddItemRequest
	lastToken   string
	lastKey     domain.LineKey
	lastQty     int
	removeCalls int
	updateCalls int
	clearCalls  int
}

func (s *stubClient) GetCart(_ context.Context, tok string) (domain.Cart, error) {
	s.mu.Lock()
	s.lastToken = tok
	idx := s.getCalls
	s.getCalls++
	var ch chan domain.Cart
	if idx < len(s.getResults) {
		ch = s.getResults[idx]
	}
	s.mu.Unlock()
	if ch == nil {
		return domain.Cart{}, nil
	}
	return <-ch, nil
}

func (s *stubClient) AddToCart(_ context.Context, tok string, in backend.AddItemRequest) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastToken = tok
	s.lastAdd = in
	return s.addCart, s.addErr
}

func (s *stubClient) UpdateCartItem(_ context.Context, tok string, key domain.LineKey, qty int) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	s.lastKey = key
	s.lastQty = qty
	return domain.Cart{}, nil
}

func (s *stubClient) RemoveCartItem(_ context.Context, tok string, key domain.LineKey) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCalls++
	s.lastKey = key
	return domain.Cart{}, nil
}

func (s *stubClient) ClearCart(context.Context, string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	return domain.Cart{}, nil
}

func cartOf(total int64, lines ...domain.CartLine) domain.Cart {
	return domain.Cart{Items: lines, TotalAmount: total}
}

func TestRefreshWithoutTokenDoesNotCallBackend(t *testing.T) {
	client := &stubClient{}
	eng := New(&stubReader{}, client, clock.Fake(time.Unix(0, 0)), time.Second, nil)

	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.getCalls != 0 {
		t.Fatalf("expected no backend call, got %d", client.getCalls)
	}
	if v := eng.View(); len(v.Items) != 0 || v.TotalAmount != 0 || v.ItemCount != 0 {
		t.Fatalf("expected empty cart, got %+v", v)
	}
}

func TestAddWithoutTokenRequiresAuth(t *testing.T) {
	eng := New(&stubReader{}, &stubClient{}, nil, time.Second, nil)
	err := eng.Add(context.Background(), AddInput{ProductID: "p1", Name: "Serum", Price: 2499})
	if !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestOtherMutationsWithoutTokenAreNoOps(t *testing.T) {
	client := &stubClient{}
	eng := New(&stubReader{}, client, nil, time.Second, nil)
	ctx := context.Background()
	key := domain.LineKey{ProductID: "p1"}

	if err := eng.UpdateQuantity(ctx, key, 2); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := eng.Remove(ctx, key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := eng.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if client.updateCalls+client.removeCalls+client.clearCalls != 0 {
		t.Fatalf("expected no backend calls, got %+v", client)
	}
}

func TestAddReplacesStateWithServerResponse(t *testing.T) {
	server := cartOf(2000, domain.CartLine{ProductID: "p1", Name: "Serum", Price: 2499, Quantity: 1})
	client := &stubClient{addCart: server}
	eng := New(&stubReader{tok: "tok"}, client, nil, time.Second, nil)

	if err := eng.Add(context.Background(), AddInput{ProductID: "p1", Name: "Serum", Price: 2499}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if client.lastAdd.Quantity != 1 || client.lastToken != "tok" {
		t.Fatalf("unexpected add call %+v token=%s", client.lastAdd, client.lastToken)
	}
	v := eng.View()
	if v.TotalAmount != 2000 {
		t.Fatalf("expected server total 2000, got %d", v.TotalAmount)
	}
	if v.ItemCount != 1 {
		t.Fatalf("expected item count 1, got %d", v.ItemCount)
	}
}

func TestAddErrorKeepsState(t *testing.T) {
	client := &stubClient{addErr: errors.New("boom")}
	eng := New(&stubReader{tok: "tok"}, client, nil, time.Second, nil)
	if err := eng.Add(context.Background(), AddInput{ProductID: "p1"}); err == nil {
		t.Fatalf("expected error")
	}
	if v := eng.View(); v.Loading || len(v.Items) != 0 {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestUpdateQuantityZeroRemoves(t *testing.T) {
	client := &stubClient{}
	eng := New(&stubReader{tok: "tok"}, client, nil, time.Second, nil)
	key := domain.LineKey{ProductID: "p1", Variant: "black"}

	if err := eng.UpdateQuantity(context.Background(), key, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	if client.removeCalls != 1 || client.updateCalls != 0 {
		t.Fatalf("expected remove, got update=%d remove=%d", client.updateCalls, client.removeCalls)
	}
	if client.lastKey != key {
		t.Fatalf("unexpected key %+v", client.lastKey)
	}
}

func TestStaleRefreshIsDropped(t *testing.T) {
	first := make(chan domain.Cart, 1)
	second := make(chan domain.Cart, 1)
	client := &stubClient{getResults: []chan domain.Cart{first, second}}
	eng := New(&stubReader{tok: "tok"}, client, nil, time.Second, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- eng.Refresh(ctx) }()
	waitFor(t, func() bool { client.mu.Lock(); defer client.mu.Unlock(); return client.getCalls == 1 })

	second <- cartOf(200, domain.CartLine{ProductID: "new", Quantity: 2})
	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	first <- cartOf(100, domain.CartLine{ProductID: "old", Quantity: 1})
	if err := <-done; err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	v := eng.View()
	if v.TotalAmount != 200 || v.Items[0].ProductID != "new" {
		t.Fatalf("stale response applied: %+v", v)
	}
}

func TestTokenChangeDropsInFlightResponse(t *testing.T) {
	pending := make(chan domain.Cart, 1)
	client := &stubClient{getResults: []chan domain.Cart{pending}}
	reader := &stubReader{tok: "tok-a"}
	eng := New(reader, client, nil, time.Second, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- eng.Refresh(ctx) }()
	waitFor(t, func() bool { client.mu.Lock(); defer client.mu.Unlock(); return client.getCalls == 1 })

	reader.set("")
	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	pending <- cartOf(999, domain.CartLine{ProductID: "leaked", Quantity: 1})
	<-done

	if v := eng.View(); len(v.Items) != 0 {
		t.Fatalf("previous session cart leaked: %+v", v)
	}
}

func TestRunResetsCartWhenTokenClearedElsewhere(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	fb.AddProduct(domain.Product{ID: "P", Name: "Serum", Price: 2499})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := token.NewMemory()
	clk := clock.Fake(time.Unix(0, 0))
	tabStore := session.NewStore("dev-1", repo, clk, nil)
	otherTab := session.NewStore("dev-1", repo, clk, nil)
	client := backend.New(fb.URL(), time.Second, nil)

	if err := otherTab.Save(ctx, fb.IssueToken("a@example.com"), "google"); err != nil {
		t.Fatalf("save: %v", err)
	}

	eng := New(tabStore, client, clk, time.Second, nil)
	go eng.Run(ctx)
	clk.BlockUntil(1)

	if err := eng.Add(ctx, AddInput{ProductID: "P", Name: "Serum", Price: 2499}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if v := eng.View(); v.ItemCount != 1 || v.TotalAmount != 2499 {
		t.Fatalf("unexpected cart after add: %+v", v)
	}

	// Another store instance over the same repository sends no signal to
	// this tab, so only the poll can notice.
	if err := otherTab.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	clk.Advance(time.Second)
	waitFor(t, func() bool { return eng.View().ItemCount == 0 })
}

func TestRunRefreshesOnSignal(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	fb.AddProduct(domain.Product{ID: "P", Name: "Serum", Price: 2499})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.Fake(time.Unix(0, 0))
	store := session.NewStore("dev-1", token.NewMemory(), clk, nil)
	client := backend.New(fb.URL(), time.Second, nil)

	tok := fb.IssueToken("a@example.com")
	if _, err := client.AddToCart(ctx, tok, backend.AddItemRequest{ProductID: "P", Name: "Serum", Price: 2499, Quantity: 2}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	eng := New(store, client, clk, time.Hour, nil)
	go eng.Run(ctx)
	clk.BlockUntil(1)

	if err := store.Save(ctx, tok, "google"); err != nil {
		t.Fatalf("save: %v", err)
	}
	waitFor(t, func() bool { return eng.View().ItemCount == 2 })

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	waitFor(t, func() bool { return eng.View().ItemCount == 0 })
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
	t.Fatalf("condition not met in time")
}

func TestUnauthorizedReportsRejectedToken(t *testing.T) {
	client := &stubClient{addErr: &backend.Error{StatusCode: 401, Message: "Invalid token"}}
	eng := New(&stubReader{tok: "old-tok"}, client, nil, time.Second, nil)
	var rejected []string
	eng.OnUnauthorized(func(_ context.Context, tok string) { rejected = append(rejected, tok) })

	if err := eng.Add(context.Background(), AddInput{ProductID: "p1"}); err == nil {
		t.Fatalf("expected error")
	}
	if len(rejected) != 1 || rejected[0] != "old-tok" {
		t.Fatalf("expected old-tok to be rejected once, got %v", rejected)
	}

	client.addErr = &backend.Error{StatusCode: 400, Message: "Product out of stock"}
	if err := eng.Add(context.Background(), AddInput{ProductID: "p1"}); err == nil {
		t.Fatalf("expected error")
	}
	if len(rejected) != 1 {
		t.Fatalf("expected other failures to leave the token alone, got %v", rejected)
	}
}
