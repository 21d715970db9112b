package cart

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"imi-storefront/internal/backend"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/session"
)

type cartClient interface {
	GetCart(ctx context.Context, token string) (domain.Cart, error)
	AddToCart(ctx context.Context, token string, in backend.AddItemRequest) (domain.Cart, error)
	UpdateCartItem(ctx context.Context, token string, key domain.LineKey, quantity int) (domain.Cart, error)
	RemoveCartItem(ctx context.Context, token string, key domain.LineKey) (domain.Cart, error)
	ClearCart(ctx context.Context, token string) (domain.Cart, error)
}

// View is the cart as exposed to the UI.
type View struct {
	Items       []domain.CartLine `json:"items"`
	TotalAmount int64             `json:"totalAmount"`
	ItemCount   int               `json:"itemCount"`
	Loading     bool              `json:"loading"`
}

// AddInput describes a line to add. Quantity defaults to 1.
type AddInput struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

// Engine keeps one tab's cart in step with the server. Every successful
// call replaces local state with the server's response.
//
// Responses are sequenced: a response is applied only if no later-issued
// request has already been applied and the token has not changed since
// the request was sent.
type Engine struct {
	session session.Reader
	client  cartClient
	clock   clock.Clock
	poll    time.Duration
	logger  *log.Logger

	rejected func(ctx context.Context, token string)

	mu        sync.Mutex
	cart      domain.Cart
	lastToken string
	epoch     uint64
	seq       uint64
	applied   uint64
	loading   int
}

func New(reader session.Reader, client cartClient, clk clock.Clock, poll time.Duration, logger *log.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if poll <= 0 {
		poll = time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		session: reader,
		client:  client,
		clock:   clk,
		poll:    poll,
		logger:  logger,
		cart:    domain.Cart{Items: []domain.CartLine{}},
	}
}

// OnUnauthorized registers fn to run when the backend answers a cart call
// with 401 for token. Set it before Run.
func (e *Engine) OnUnauthorized(fn func(ctx context.Context, token string)) {
	e.rejected = fn
}

func (e *Engine) checkRejected(ctx context.Context, tok string, err error) {
	if e.rejected != nil && backend.IsUnauthorized(err) {
		e.logger.Printf("cart engine: token rejected by backend")
		e.rejected(ctx, tok)
	}
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := make([]domain.CartLine, len(e.cart.Items))
	copy(items, e.cart.Items)
	return View{
		Items:       items,
		TotalAmount: e.cart.TotalAmount,
		ItemCount:   e.cart.ItemCount(),
		Loading:     e.loading > 0,
	}
}

// Cart returns the last server cart.
func (e *Engine) Cart() domain.Cart {
	v := e.View()
	return domain.Cart{Items: v.Items, TotalAmount: v.TotalAmount}
}

// token reads the current token and, when it differs from the last one
// seen, invalidates in-flight responses. A vanished token empties the cart
// at once.
func (e *Engine) token(ctx context.Context) (string, bool, error) {
	tok, err := e.session.Token(ctx)
	if err != nil {
		return "", false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if tok == e.lastToken {
		return tok, false, nil
	}
	e.lastToken = tok
	e.epoch++
	if tok == "" {
		e.cart = domain.Cart{Items: []domain.CartLine{}}
	}
	return tok, true, nil
}

type ticket struct {
	seq   uint64
	epoch uint64
}

func (e *Engine) begin() ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.loading++
	return ticket{seq: e.seq, epoch: e.epoch}
}

func (e *Engine) finish(t ticket, cart domain.Cart, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loading--
	if err != nil {
		return err
	}
	if t.epoch != e.epoch || t.seq < e.applied {
		e.logger.Printf("cart engine: stale response seq=%d applied=%d dropped", t.seq, e.applied)
		return nil
	}
	if cart.Items == nil {
		cart.Items = []domain.CartLine{}
	}
	e.cart = cart
	e.applied = t.seq
	return nil
}

// Refresh refetches the cart. Without a token it empties the cart locally
// and does not contact the backend.
func (e *Engine) Refresh(ctx context.Context) error {
	tok, _, err := e.token(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		e.mu.Lock()
		e.cart = domain.Cart{Items: []domain.CartLine{}}
		e.mu.Unlock()
		return nil
	}
	t := e.begin()
	cart, err := e.client.GetCart(ctx, tok)
	if err != nil {
		e.logger.Printf("cart engine: refresh error=%v", err)
		e.checkRejected(ctx, tok, err)
	}
	return e.finish(t, cart, err)
}

// Add requires a session token and fails with domain.ErrAuthRequired without one.
func (e *Engine) Add(ctx context.Context, in AddInput) error {
	if strings.TrimSpace(in.ProductID) == "" {
		return errors.New("productId required")
	}
	if in.Quantity <= 0 {
		in.Quantity = 1
	}
	tok, _, err := e.token(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return domain.ErrAuthRequired
	}
	t := e.begin()
	cart, err := e.client.AddToCart(ctx, tok, backend.AddItemRequest(in))
	e.checkRejected(ctx, tok, err)
	return e.finish(t, cart, err)
}

// UpdateQuantity sets a line's quantity; quantity <= 0 removes the line.
// Without a token it does nothing.
func (e *Engine) UpdateQuantity(ctx context.Context, key domain.LineKey, quantity int) error {
	if quantity <= 0 {
		return e.Remove(ctx, key)
	}
	return e.mutate(ctx, func(tok string) (domain.Cart, error) {
		return e.client.UpdateCartItem(ctx, tok, key, quantity)
	})
}

func (e *Engine) Remove(ctx context.Context, key domain.LineKey) error {
	return e.mutate(ctx, func(tok string) (domain.Cart, error) {
		return e.client.RemoveCartItem(ctx, tok, key)
	})
}

func (e *Engine) Clear(ctx context.Context) error {
	return e.mutate(ctx, func(tok string) (domain.Cart, error) {
		return e.client.ClearCart(ctx, tok)
	})
}

func (e *Engine) mutate(ctx context.Context, call func(tok string) (domain.Cart, error)) error {
	tok, _, err := e.token(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return nil
	}
	t := e.begin()
	cart, err := call(tok)
	e.checkRejected(ctx, tok, err)
	return e.finish(t, cart, err)
}

// Run fetches the cart, then watches for token changes until ctx is done.
// Change signals and the poll ticker are both honoured; either one
// refreshes or empties the cart.
func (e *Engine) Run(ctx context.Context) {
	signals, unsubscribe := e.session.Subscribe()
	defer unsubscribe()

	if err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
		e.logger.Printf("cart engine: initial refresh error=%v", err)
	}
	ticker := e.clock.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			e.check(ctx)
		case <-ticker.C:
			e.check(ctx)
		}
	}
}

func (e *Engine) check(ctx context.Context) {
	tok, changed, err := e.token(ctx)
	if err != nil {
		e.logger.Printf("cart engine: token read error=%v", err)
		return
	}
	if !changed || tok == "" {
		return
	}
	if err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
		e.logger.Printf("cart engine: refresh after token change error=%v", err)
	}
}
