package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentMethod selects how an order is paid.
type PaymentMethod string

const (
	PaymentOnline  PaymentMethod = "ONLINE"
	PaymentCOD     PaymentMethod = "COD"
	PaymentPartial PaymentMethod = "PARTIAL"
)

// ParsePaymentMethod accepts the wire names case-insensitively.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(s))) {
	case PaymentOnline:
		return PaymentOnline, nil
	case PaymentCOD:
		return PaymentCOD, nil
	case PaymentPartial:
		return PaymentPartial, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", s)
	}
}

// Redirects reports whether the method hands off to the payment gateway.
func (m PaymentMethod) Redirects() bool {
	return m == PaymentOnline || m == PaymentPartial
}

// ShippingAddress holds postal fields. Everything except AddressLine2 is
// mandatory for checkout.
type ShippingAddress struct {
	FullName     string `json:"fullName"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
}

// PaymentData is the signed gateway hand-off payload. Hash is computed by the
// backend and is never recomputed or checked here.
type PaymentData struct {
	Key         string `json:"key"`
	TxnID       string `json:"txnid"`
	Amount      string `json:"amount"`
	ProductInfo string `json:"productinfo"`
	FirstName   string `json:"firstname"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	SURL        string `json:"surl"`
	FURL        string `json:"furl"`
	Hash        string `json:"hash"`
	Action      string `json:"action"`
	OrderID     string `json:"orderId,omitempty"`
}

// OrderProduct is one product line of a placed order. Product is nil for
// aggregated lines, which carry ProductName and Price instead.
type OrderProduct struct {
	Product     *ProductRef `json:"product,omitempty"`
	ProductName string      `json:"productName,omitempty"`
	Price       int64       `json:"price,omitempty"`
	Quantity    int         `json:"quantity"`
}

// ProductRef is the populated product of an order line.
type ProductRef struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Image string `json:"image,omitempty"`
}

// Order is the backend's order record as returned to the client.
type Order struct {
	ID                     string           `json:"_id"`
	Products               []OrderProduct   `json:"products"`
	TotalAmount            int64            `json:"totalAmount"`
	AdvanceAmount          int64            `json:"advanceAmount,omitempty"`
	RemainingAmount        int64            `json:"remainingAmount,omitempty"`
	PaymentMethod          PaymentMethod    `json:"paymentMethod"`
	PaymentStatus          string           `json:"paymentStatus"`
	DeliveryPaymentPending bool             `json:"deliveryPaymentPending,omitempty"`
	ShippingAddress        *ShippingAddress `json:"shippingAddress,omitempty"`
	Status                 string           `json:"status"`
	CreatedAt              time.Time        `json:"createdAt"`
	UpdatedAt              time.Time        `json:"updatedAt"`
}
