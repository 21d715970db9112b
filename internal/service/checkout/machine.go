package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"golang.org/x/text/message"

	"imi-storefront/internal/backend"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/service/payment"
)

type tokenSource interface {
	EnsureToken(ctx context.Context) (string, error)
}

type paymentCreator interface {
	CreatePayment(ctx context.Context, token string, in backend.PaymentRequest) (backend.PaymentResponse, error)
}

type cartClearer interface {
	Clear(ctx context.Context) error
}

// tokenRejecter is implemented by token sources that can recover from a
// token the backend no longer accepts.
type tokenRejecter interface {
	Reject(ctx context.Context, token string)
}

type redirector interface {
	Redirect(ctx context.Context, nav payment.Navigator, data domain.PaymentData, sessionID string) error
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Tokens   tokenSource
	Payments paymentCreator
	Cart     cartClearer
	Gateway  redirector
	Locale   string
	Logger   *log.Logger
}

const (
	msgSignIn        = "Please sign in to continue to checkout"
	msgEmptyCart     = "Your cart is empty"
	msgOrderFailed   = "Could not place your order. Please try again."
	msgPaymentFailed = "Failed to initiate payment"
	msgRedirectError = "Could not open the payment page. Please try again."
	msgSessionEnded  = "Your session has expired. Please try again."
)

// Snapshot is the externally visible checkout state.
type Snapshot struct {
	State   State                  `json:"state"`
	Lines   []domain.CartLine      `json:"lines"`
	Total   int64                  `json:"total"`
	Address domain.ShippingAddress `json:"address"`
	Method  domain.PaymentMethod   `json:"method"`
	Quote   Quote                  `json:"quote"`
	Order   *domain.Order          `json:"order,omitempty"`
}

// Result is the outcome of a successful Confirm.
type Result struct {
	State State         `json:"state"`
	Order *domain.Order `json:"order,omitempty"`
}

// Machine is one tab's checkout. It starts in StateAddress after Begin and
// ends in StateRedirecting or StateCodConfirmed.
type Machine struct {
	deps      Deps
	sessionID string
	printer   *message.Printer
	logger    *log.Logger

	mu         sync.Mutex
	started    bool
	state      State
	lines      []domain.CartLine
	total      int64
	fromCart   bool
	address    domain.ShippingAddress
	method     domain.PaymentMethod
	order      *domain.Order
	confirming bool
}

func NewMachine(deps Deps, sessionID string) *Machine {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Machine{
		deps:      deps,
		sessionID: sessionID,
		printer:   printerFor(deps.Locale),
		logger:    logger,
		state:     StateAddress,
		method:    domain.PaymentOnline,
	}
}

// Begin starts checkout for the cart. A missing session token is repaired
// through the identity bridge first; if that fails checkout does not start.
func (m *Machine) Begin(ctx context.Context, cart domain.Cart) error {
	if cart.Empty() {
		return &UserError{Step: StateAddress, Message: msgEmptyCart}
	}
	return m.begin(ctx, cart.Items, cart.TotalAmount, true)
}

// BeginProduct starts a buy-now checkout of a single product.
func (m *Machine) BeginProduct(ctx context.Context, p domain.Product, quantity int) error {
	if p.ID == "" {
		return errors.New("product id required")
	}
	if quantity <= 0 {
		quantity = 1
	}
	line := domain.CartLine{ProductID: p.ID, Name: p.Name, Price: p.Price, Image: p.Image, Quantity: quantity}
	return m.begin(ctx, []domain.CartLine{line}, p.Price*int64(quantity), false)
}

func (m *Machine) begin(ctx context.Context, lines []domain.CartLine, total int64, fromCart bool) error {
	m.mu.Lock()
	busy := m.confirming
	m.mu.Unlock()
	if busy {
		return domain.ErrConfirmInFlight
	}
	if _, err := m.deps.Tokens.EnsureToken(ctx); err != nil {
		m.logger.Printf("checkout: entry guard session_id=%s error=%v", m.sessionID, err)
		return &UserError{Step: StateAddress, Message: msgSignIn, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirming {
		return domain.ErrConfirmInFlight
	}
	m.started = true
	m.state = StateAddress
	m.lines = append([]domain.CartLine(nil), lines...)
	m.total = total
	m.fromCart = fromCart
	m.method = domain.PaymentOnline
	m.order = nil
	return nil
}

func (m *Machine) stepLocked(ev Event) error {
	if !m.started {
		return fmt.Errorf("%w: checkout not started", domain.ErrInvalidTransition)
	}
	next, err := Transition(m.state, ev)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}

// SubmitAddress validates a and moves to the payment step. On a validation
// failure the machine stays in StateAddress.
func (m *Machine) SubmitAddress(a domain.ShippingAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.state != StateAddress {
		return fmt.Errorf("%w: address submitted in %s", domain.ErrInvalidTransition, m.state)
	}
	if err := ValidateAddress(a); err != nil {
		return err
	}
	if err := m.stepLocked(EventAddressAccepted); err != nil {
		return err
	}
	m.address = normalizeAddress(a)
	return nil
}

// Back returns from the payment step to the address step.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirming {
		return domain.ErrConfirmInFlight
	}
	return m.stepLocked(EventBack)
}

func (m *Machine) SelectMethod(method domain.PaymentMethod) error {
	method, err := domain.ParsePaymentMethod(string(method))
	if err != nil {
		return &UserError{Step: StatePayment, Field: "paymentMethod", Message: "Please choose a payment method", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePayment || !m.started {
		return fmt.Errorf("%w: method selected in %s", domain.ErrInvalidTransition, m.state)
	}
	if m.confirming {
		return domain.ErrConfirmInFlight
	}
	m.method = method
	return nil
}

// Quote prices the selected method against the checkout total.
func (m *Machine) Quote() Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newQuote(m.printer, m.method, m.total)
}

func (m *Machine) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:   m.state,
		Lines:   append([]domain.CartLine{}, m.lines...),
		Total:   m.total,
		Address: m.address,
		Method:  m.method,
		Quote:   newQuote(m.printer, m.method, m.total),
		Order:   m.order,
	}
}

// Confirm creates the order. COD ends in StateCodConfirmed and clears the
// cart; ONLINE and PARTIAL hand off to the gateway through nav and end in
// StateRedirecting. Any failure leaves the machine in StatePayment. The
// order call is never retried.
func (m *Machine) Confirm(ctx context.Context, nav payment.Navigator) (Result, error) {
	m.mu.Lock()
	if m.confirming {
		m.mu.Unlock()
		return Result{}, domain.ErrConfirmInFlight
	}
	if !m.started || m.state != StatePayment {
		state := m.state
		m.mu.Unlock()
		return Result{}, fmt.Errorf("%w: confirm in %s", domain.ErrInvalidTransition, state)
	}
	m.confirming = true
	req := m.requestLocked()
	fromCart := m.fromCart
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.confirming = false
		m.mu.Unlock()
	}()

	tok, err := m.deps.Tokens.EnsureToken(ctx)
	if err != nil {
		return Result{}, &UserError{Step: StatePayment, Message: msgSignIn, Err: err}
	}

	resp, err := m.deps.Payments.CreatePayment(ctx, tok, req)
	if err != nil {
		m.logger.Printf("checkout: create payment session_id=%s method=%s error=%v", m.sessionID, req.PaymentMethod, err)
		if backend.IsUnauthorized(err) {
			// The order was refused, so the user may simply confirm again
			// once a fresh token is in place.
			if r, ok := m.deps.Tokens.(tokenRejecter); ok {
				r.Reject(ctx, tok)
			}
			return Result{}, &UserError{Step: StatePayment, Message: msgSessionEnded, Err: err}
		}
		return Result{}, &UserError{Step: StatePayment, Message: backend.MessageOr(err, msgOrderFailed), Err: err}
	}
	if !resp.Success {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = msgOrderFailed
		}
		return Result{}, &UserError{Step: StatePayment, Message: msg}
	}

	if resp.PaymentMethod == domain.PaymentCOD {
		if fromCart && m.deps.Cart != nil {
			if err := m.deps.Cart.Clear(ctx); err != nil {
				m.logger.Printf("checkout: clear cart after cod session_id=%s error=%v", m.sessionID, err)
			}
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.commitLocked(EventCodConfirmed)
		m.order = resp.Order
		return Result{State: m.state, Order: resp.Order}, nil
	}

	if resp.PaymentData == nil {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = msgPaymentFailed
		}
		return Result{}, &UserError{Step: StatePayment, Message: msg}
	}
	if err := m.deps.Gateway.Redirect(ctx, nav, *resp.PaymentData, m.sessionID); err != nil {
		m.logger.Printf("checkout: redirect session_id=%s txnid=%s error=%v", m.sessionID, resp.PaymentData.TxnID, err)
		return Result{}, &UserError{Step: StatePayment, Message: msgRedirectError, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitLocked(EventRedirected)
	return Result{State: m.state}, nil
}

// commitLocked records the outcome of an order the backend has accepted.
// The order exists whatever state the machine is in, so the terminal state
// is entered unconditionally.
func (m *Machine) commitLocked(ev Event) {
	next, err := Transition(StatePayment, ev)
	if err != nil {
		m.logger.Printf("checkout: commit session_id=%s event=%s error=%v", m.sessionID, ev, err)
		return
	}
	if m.state != StatePayment {
		m.logger.Printf("checkout: order committed from %s session_id=%s", m.state, m.sessionID)
	}
	m.started = true
	m.state = next
}

// requestLocked builds the order request. One distinct line is sent by
// product id; several lines are collapsed into one named line priced at the
// server's cart total.
func (m *Machine) requestLocked() backend.PaymentRequest {
	req := backend.PaymentRequest{
		PaymentMethod:   m.method,
		ShippingAddress: m.address,
	}
	if len(m.lines) == 1 {
		req.ProductID = m.lines[0].ProductID
		req.Quantity = m.lines[0].Quantity
		return req
	}
	parts := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		parts = append(parts, fmt.Sprintf("%s x%d", l.Name, l.Quantity))
	}
	req.ProductName = strings.Join(parts, ", ")
	req.Price = m.total
	req.Quantity = 1
	return req
}
