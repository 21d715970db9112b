package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"imi-storefront/internal/domain"
)

// Client calls the commerce backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// New configures a client for baseURL, e.g. "https://api.example.com/api".
func New(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Error is a non-2xx backend response. Message is the backend's own
// message, which may be empty.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %d", e.StatusCode)
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.StatusCode == http.StatusUnauthorized
}

// MessageOr returns the backend message carried by err, or fallback.
func MessageOr(err error, fallback string) string {
	var be *Error
	if errors.As(err, &be) && strings.TrimSpace(be.Message) != "" {
		return be.Message
	}
	return fallback
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil && method != http.MethodGet {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		c.logger.Printf("backend: %s %s status=%d", method, path, resp.StatusCode)
		return &Error{StatusCode: resp.StatusCode, Message: payload.Message}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// SyncRequest registers a social sign-in with the backend.
type SyncRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
}

// SyncResponse carries the issued session token.
type SyncResponse struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	Token string `json:"token"`
}

// SyncIdentity exchanges a provider identity for a backend session token.
func (c *Client) SyncIdentity(ctx context.Context, in SyncRequest) (SyncResponse, error) {
	var out SyncResponse
	if err := c.do(ctx, http.MethodPost, "/auth/sync", "", in, &out); err != nil {
		return SyncResponse{}, err
	}
	if out.Token == "" {
		return SyncResponse{}, errors.New("sync response carried no token")
	}
	return out, nil
}

// AddItemRequest adds quantity of a (product, variant) line.
type AddItemRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

type updateItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Variant   string `json:"variant,omitempty"`
}

type removeItemRequest struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant,omitempty"`
}

func (c *Client) GetCart(ctx context.Context, token string) (domain.Cart, error) {
	return c.cartCall(ctx, http.MethodGet, "/cart", token, nil)
}

func (c *Client) AddToCart(ctx context.Context, token string, in AddItemRequest) (domain.Cart, error) {
	return c.cartCall(ctx, http.MethodPost, "/cart/add", token, in)
}

func (c *Client) UpdateCartItem(ctx context.Context, token string, key domain.LineKey, quantity int) (domain.Cart, error) {
	return c.cartCall(ctx, http.MethodPost, "/cart/update", token, updateItemRequest{ProductID: key.ProductID, Quantity: quantity, Variant: key.Variant})
}

func (c *Client) RemoveCartItem(ctx context.Context, token string, key domain.LineKey) (domain.Cart, error) {
	return c.cartCall(ctx, http.MethodPost, "/cart/remove", token, removeItemRequest{ProductID: key.ProductID, Variant: key.Variant})
}

func (c *Client) ClearCart(ctx context.Context, token string) (domain.Cart, error) {
	return c.cartCall(ctx, http.MethodPost, "/cart/clear", token, struct{}{})
}

func (c *Client) cartCall(ctx context.Context, method, path, token string, body any) (domain.Cart, error) {
	var out domain.Cart
	if err := c.do(ctx, method, path, token, body, &out); err != nil {
		return domain.Cart{}, err
	}
	if out.Items == nil {
		out.Items = []domain.CartLine{}
	}
	return out, nil
}

// RecoverCart marks the tab's abandoned cart as recovered.
func (c *Client) RecoverCart(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/cart/recover", "", map[string]string{"sessionId": sessionID}, nil)
}

// PaymentRequest creates an order. Either ProductID or ProductName+Price is set.
type PaymentRequest struct {
	ProductID       string                 `json:"productId,omitempty"`
	ProductName     string                 `json:"productName,omitempty"`
	Price           int64                  `json:"price,omitempty"`
	Quantity        int                    `json:"quantity"`
	PaymentMethod   domain.PaymentMethod   `json:"paymentMethod"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
}

// PaymentResponse carries an order for COD or a gateway hand-off otherwise.
type PaymentResponse struct {
	Success       bool                 `json:"success"`
	Message       string               `json:"message,omitempty"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	Order         *domain.Order        `json:"order,omitempty"`
	PaymentData   *domain.PaymentData  `json:"paymentData,omitempty"`
}

func (c *Client) CreatePayment(ctx context.Context, token string, in PaymentRequest) (PaymentResponse, error) {
	var out PaymentResponse
	if err := c.do(ctx, http.MethodPost, "/payment/create", token, in, &out); err != nil {
		return PaymentResponse{}, err
	}
	return out, nil
}

// VerifyResponse reports the settled state of a gateway transaction.
type VerifyResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Order   *domain.Order `json:"order,omitempty"`
}

func (c *Client) VerifyPayment(ctx context.Context, token, txnID string) (VerifyResponse, error) {
	var out VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/payment/verify", token, map[string]string{"txnid": txnID}, &out); err != nil {
		return VerifyResponse{}, err
	}
	return out, nil
}

func (c *Client) MyOrders(ctx context.Context, token string) ([]domain.Order, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/orders/my", token, nil, &raw); err != nil {
		return nil, err
	}
	// Anything other than an array reads as no orders.
	var orders []domain.Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		return []domain.Order{}, nil
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// ProductsPage is one page of the active catalog.
type ProductsPage struct {
	Products   []domain.Product `json:"products"`
	Page       int              `json:"page"`
	TotalPages int              `json:"totalPages"`
	Total      int              `json:"total"`
}

func (c *Client) Products(ctx context.Context) (ProductsPage, error) {
	var out ProductsPage
	if err := c.do(ctx, http.MethodGet, "/products", "", nil, &out); err != nil {
		return ProductsPage{}, err
	}
	return out, nil
}

func (c *Client) Product(ctx context.Context, id string) (domain.Product, error) {
	var out domain.Product
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), "", nil, &out); err != nil {
		var be *Error
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, err
	}
	return out, nil
}

func (c *Client) TrackEvent(ctx context.Context, event domain.AnalyticsEvent) error {
	return c.do(ctx, http.MethodPost, "/analytics/track", "", event, nil)
}

func (c *Client) TrackBatch(ctx context.Context, events []domain.AnalyticsEvent) error {
	return c.do(ctx, http.MethodPost, "/analytics/track/batch", "", map[string]any{"events": events}, nil)
}
