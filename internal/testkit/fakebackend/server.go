// Package fakebackend is an in-memory commerce backend speaking the same
// JSON contracts as the real one. Tests point a backend.Client at URL().
package fakebackend

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"imi-storefront/internal/domain"
)

const GatewayAction = "https://gateway.test/_payment"

// PaymentCall records one /payment/create body.
type PaymentCall struct {
	ProductID       string                 `json:"productId"`
	ProductName     string                 `json:"productName"`
	Price           int64                  `json:"price"`
	Quantity        int                    `json:"quantity"`
	PaymentMethod   domain.PaymentMethod   `json:"paymentMethod"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
}

type user struct {
	id    string
	email string
	name  string
}

type Server struct {
	mu sync.Mutex

	users    map[string]*user // by email
	tokens   map[string]*user
	carts    map[string][]domain.CartLine // by user id
	products map[string]domain.Product
	orders   map[string][]domain.Order // by user id
	pending  map[string]string         // txnid -> user id

	discountPercent int64
	failSync        int
	failAnalytics   bool

	syncCalls    []string
	payments     []PaymentCall
	events       []domain.AnalyticsEvent
	batchSizes   []int
	recovered    []string
	verified     []string
	cartRequests int

	engine *gin.Engine
	http   *httptest.Server
}

// New starts a fake backend on a loopback port.
func New() *Server {
	s := NewUnstarted()
	s.http = httptest.NewServer(s.engine)
	return s
}

// NewUnstarted builds the backend without listening; serve it through Handler.
func NewUnstarted() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		users:    map[string]*user{},
		tokens:   map[string]*user{},
		carts:    map[string][]domain.CartLine{},
		products: map[string]domain.Product{},
		orders:   map[string][]domain.Order{},
		pending:  map[string]string{},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// URL is the API base, including the /api prefix.
func (s *Server) URL() string { return s.http.URL + "/api" }

func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	api := r.Group("/api")

	api.POST("/auth/sync", s.sync)
	api.GET("/products", s.listProducts)
	api.GET("/products/:id", s.getProduct)
	api.POST("/cart/recover", s.recoverCart)
	api.POST("/analytics/track", s.track)
	api.POST("/analytics/track/batch", s.trackBatch)

	authed := api.Group("", s.auth)
	authed.GET("/cart", s.getCart)
	authed.POST("/cart/add", s.addToCart)
	authed.POST("/cart/update", s.updateCart)
	authed.POST("/cart/remove", s.removeFromCart)
	authed.POST("/cart/clear", s.clearCart)
	authed.POST("/payment/create", s.createPayment)
	authed.POST("/payment/verify", s.verifyPayment)
	authed.GET("/orders/my", s.myOrders)
	return r
}

func (s *Server) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// SetDiscount applies a server-side percentage discount to every cart total.
func (s *Server) SetDiscount(percent int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discountPercent = percent
}

// FailSyncTimes makes the next n /auth/sync calls answer 503.
func (s *Server) FailSyncTimes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSync = n
}

func (s *Server) FailAnalytics(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAnalytics = fail
}

// IssueToken signs email in directly and returns a valid token.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(email, "")
}

// RevokeToken invalidates tok so further calls with it answer 401.
func (s *Server) RevokeToken(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tok)
}

func (s *Server) issueLocked(email, name string) string {
	u, ok := s.users[email]
	if !ok {
		u = &user{id: uuid.NewString(), email: email, name: name}
		s.users[email] = u
	}
	tok := "tok-" + uuid.NewString()
	s.tokens[tok] = u
	return tok
}

func (s *Server) SyncCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.syncCalls...)
}

func (s *Server) Payments() []PaymentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PaymentCall(nil), s.payments...)
}

func (s *Server) Events() []domain.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AnalyticsEvent(nil), s.events...)
}

func (s *Server) BatchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batchSizes...)
}

func (s *Server) Recovered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recovered...)
}

func (s *Server) Verified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.verified...)
}

// CartRequests counts authenticated cart calls, reads included.
func (s *Server) CartRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartRequests
}

// Cart returns the stored cart of the user owning tok.
func (s *Server) Cart(tok string) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.tokens[tok]
	if !ok {
		return domain.Cart{Items: []domain.CartLine{}}
	}
	return s.cartLocked(u.id)
}

func (s *Server) cartLocked(userID string) domain.Cart {
	lines := append([]domain.CartLine{}, s.carts[userID]...)
	var total int64
	for _, l := range lines {
		total += l.Price * int64(l.Quantity)
	}
	total -= total * s.discountPercent / 100
	return domain.Cart{Items: lines, TotalAmount: total}
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}

func (s *Server) auth(c *gin.Context) {
	tok := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	s.mu.Lock()
	u, ok := s.tokens[tok]
	s.mu.Unlock()
	if tok == "" || !ok {
		errorJSON(c, http.StatusUnauthorized, "Not authorized, token failed")
		return
	}
	c.Set("user", u)
	c.Next()
}

func currentUser(c *gin.Context) *user {
	return c.MustGet("user").(*user)
}

func (s *Server) sync(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		errorJSON(c, http.StatusBadRequest, "Email is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncCalls = append(s.syncCalls, req.Email+"|"+req.Provider)
	if s.failSync > 0 {
		s.failSync--
		errorJSON(c, http.StatusServiceUnavailable, "Server is starting")
		return
	}
	tok := s.issueLocked(req.Email, req.Name)
	u := s.users[req.Email]
	c.JSON(http.StatusOK, gin.H{"_id": u.id, "name": u.name, "email": u.email, "role": "user", "token": tok})
}

func (s *Server) listProducts(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, gin.H{"products": out, "page": 1, "totalPages": 1, "total": len(out)})
}

func (s *Server) getProduct(c *gin.Context) {
	s.mu.Lock()
	p, ok := s.products[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		errorJSON(c, http.StatusNotFound, "Product not found")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) getCart(c *gin.Context) {
	u := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartRequests++
	c.JSON(http.StatusOK, s.cartLocked(u.id))
}

func (s *Server) addToCart(c *gin.Context) {
	var req domain.CartLine
	if err := c.ShouldBindJSON(&req); err != nil || req.ProductID == "" {
		errorJSON(c, http.StatusBadRequest, "productId is required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	u := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartRequests++
	lines := s.carts[u.id]
	held := 0
	for _, l := range lines {
		if l.ProductID == req.ProductID {
			held += l.Quantity
		}
	}
	if p, ok := s.products[req.ProductID]; ok && p.Stock > 0 && held+req.Quantity > p.Stock {
		errorJSON(c, http.StatusConflict, fmt.Sprintf("Only %d left in stock", p.Stock))
		return
	}
	merged := false
	for i := range lines {
		if lines[i].Key() == req.Key() {
			lines[i].Quantity += req.Quantity
			merged = true
			break
		}
	}
	if !merged {
		if p, ok := s.products[req.ProductID]; ok {
			req.Price = p.Price
		}
		lines = append(lines, req)
	}
	s.carts[u.id] = lines
	c.JSON(http.StatusOK, s.cartLocked(u.id))
}

func (s *Server) updateCart(c *gin.Context) {
	var req struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		Variant   string `json:"variant"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid body")
		return
	}
	key := domain.LineKey{ProductID: req.ProductID, Variant: req.Variant}
	u := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartRequests++
	lines := s.carts[u.id]
	for i := range lines {
		if lines[i].Key() == key {
			if req.Quantity <= 0 {
				lines = append(lines[:i], lines[i+1:]...)
			} else {
				lines[i].Quantity = req.Quantity
			}
			break
		}
	}
	s.carts[u.id] = lines
	c.JSON(http.StatusOK, s.cartLocked(u.id))
}

func (s *Server) removeFromCart(c *gin.Context) {
	var req struct {
		ProductID string `json:"productId"`
		Variant   string `json:"variant"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid body")
		return
	}
	key := domain.LineKey{ProductID: req.ProductID, Variant: req.Variant}
	u := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartRequests++
	lines := s.carts[u.id]
	kept := lines[:0]
	for _, l := range lines {
		if l.Key() != key {
			kept = append(kept, l)
		}
	}
	s.carts[u.id] = kept
	c.JSON(http.StatusOK, s.cartLocked(u.id))
}

func (s *Server) clearCart(c *gin.Context) {
	u := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartRequests++
	delete(s.carts, u.id)
	c.JSON(http.StatusOK, s.cartLocked(u.id))
}

func (s *Server) recoverCart(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		errorJSON(c, http.StatusBadRequest, "sessionId is required")
		return
	}
	s.mu.Lock()
	s.recovered = append(s.recovered, req.SessionID)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) createPayment(c *gin.Context) {
	var req PaymentCall
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid body")
		return
	}
	u := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, req)

	line := domain.OrderProduct{Quantity: req.Quantity}
	var total int64
	switch {
	case req.ProductID != "":
		p, ok := s.products[req.ProductID]
		if !ok {
			errorJSON(c, http.StatusNotFound, "Product not found")
			return
		}
		line.Product = &domain.ProductRef{ID: p.ID, Name: p.Name, Price: p.Price, Image: p.Image}
		total = p.Price * int64(req.Quantity)
	case req.ProductName != "" && req.Price > 0:
		line.ProductName = req.ProductName
		line.Price = req.Price
		total = req.Price * int64(req.Quantity)
	default:
		errorJSON(c, http.StatusBadRequest, "Product is required")
		return
	}
	if req.ShippingAddress.FullName == "" {
		errorJSON(c, http.StatusBadRequest, "Shipping address is required")
		return
	}

	now := time.Now().UTC()
	addr := req.ShippingAddress
	order := domain.Order{
		ID:              uuid.NewString(),
		Products:        []domain.OrderProduct{line},
		TotalAmount:     total,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   "pending",
		ShippingAddress: &addr,
		Status:          "pending",
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	switch req.PaymentMethod {
	case domain.PaymentCOD:
		order.DeliveryPaymentPending = true
		order.RemainingAmount = total
		s.orders[u.id] = append(s.orders[u.id], order)
		c.JSON(http.StatusOK, gin.H{"success": true, "paymentMethod": domain.PaymentCOD, "order": order, "message": "Order placed"})
	case domain.PaymentOnline, domain.PaymentPartial:
		due := total
		if req.PaymentMethod == domain.PaymentPartial {
			due = (total + 1) / 2
			order.AdvanceAmount = due
			order.RemainingAmount = total - due
			order.DeliveryPaymentPending = true
		}
		txn := "txn" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		s.orders[u.id] = append(s.orders[u.id], order)
		s.pending[txn] = u.id
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"paymentMethod": req.PaymentMethod,
			"paymentData": domain.PaymentData{
				Key:         "test-key",
				TxnID:       txn,
				Amount:      formatAmount(due),
				ProductInfo: productInfo(line),
				FirstName:   addr.FullName,
				Email:       u.email,
				Phone:       addr.Phone,
				SURL:        "https://store.test/payment/success",
				FURL:        "https://store.test/payment/failure",
				Hash:        "hash-" + txn,
				Action:      GatewayAction,
				OrderID:     order.ID,
			},
		})
	default:
		errorJSON(c, http.StatusBadRequest, "Invalid payment method")
	}
}

func (s *Server) verifyPayment(c *gin.Context) {
	var req struct {
		TxnID string `json:"txnid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TxnID == "" {
		errorJSON(c, http.StatusBadRequest, "txnid is required")
		return
	}
	u := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified = append(s.verified, req.TxnID)
	if owner, ok := s.pending[req.TxnID]; !ok || owner != u.id {
		errorJSON(c, http.StatusNotFound, "Transaction not found")
		return
	}
	delete(s.pending, req.TxnID)
	delete(s.carts, u.id)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Payment verified"})
}

func (s *Server) myOrders(c *gin.Context) {
	u := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.Order{}, s.orders[u.id]...)
	c.JSON(http.StatusOK, out)
}

func (s *Server) track(c *gin.Context) {
	var ev domain.AnalyticsEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid event")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAnalytics {
		errorJSON(c, http.StatusInternalServerError, "analytics down")
		return
	}
	s.events = append(s.events, ev)
	c.Status(http.StatusCreated)
}

func (s *Server) trackBatch(c *gin.Context) {
	var req struct {
		Events []domain.AnalyticsEvent `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid batch")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAnalytics {
		errorJSON(c, http.StatusInternalServerError, "analytics down")
		return
	}
	s.events = append(s.events, req.Events...)
	s.batchSizes = append(s.batchSizes, len(req.Events))
	c.Status(http.StatusCreated)
}
