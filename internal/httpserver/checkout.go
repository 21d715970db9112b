package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/service/checkout"
	"imi-storefront/internal/service/payment"
)

type beginCheckoutRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type methodRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

type confirmResponse struct {
	State    checkout.State `json:"state"`
	Order    *domain.Order  `json:"order,omitempty"`
	Redirect *payment.Form  `json:"redirect,omitempty"`
}

// formNavigator holds the hand-off form until the response is written.
type formNavigator struct {
	form *payment.Form
}

func (n *formNavigator) Navigate(_ context.Context, form payment.Form) error {
	n.form = &form
	return nil
}

func (h *handlers) checkoutState(c *gin.Context) {
	c.JSON(http.StatusOK, currentTab(c).Checkout.State())
}

// beginCheckout starts from the tab's cart, or from a single product when
// productId is given.
func (h *handlers) beginCheckout(c *gin.Context) {
	var req beginCheckoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkout request"})
			return
		}
	}
	t := currentTab(c)
	ctx := c.Request.Context()

	var err error
	if req.ProductID != "" {
		var p domain.Product
		p, err = h.catalog.Product(ctx, req.ProductID)
		if err == nil {
			err = t.Checkout.BeginProduct(ctx, p, req.Quantity)
		}
	} else {
		err = t.Checkout.Begin(ctx, t.Cart.Cart())
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Checkout.State())
}

func (h *handlers) submitAddress(c *gin.Context) {
	var a domain.ShippingAddress
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	t := currentTab(c)
	if err := t.Checkout.SubmitAddress(a); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Checkout.State())
}

func (h *handlers) checkoutBack(c *gin.Context) {
	t := currentTab(c)
	if err := t.Checkout.Back(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Checkout.State())
}

func (h *handlers) selectMethod(c *gin.Context) {
	var req methodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment method"})
		return
	}
	t := currentTab(c)
	if err := t.Checkout.SelectMethod(domain.PaymentMethod(req.PaymentMethod)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Checkout.State())
}

// confirm places the order. A gateway hand-off is answered with the
// auto-submitting page when the client accepts HTML, otherwise with the form
// as JSON for the client to post itself.
func (h *handlers) confirm(c *gin.Context) {
	t := currentTab(c)
	nav := &formNavigator{}
	res, err := t.Checkout.Confirm(c.Request.Context(), nav)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if nav.form == nil {
		c.JSON(http.StatusOK, confirmResponse{State: res.State, Order: res.Order})
		return
	}
	h.registry.ExpectPayment(nav.form.Value("txnid"), t.Device.ID)
	if wantsHTML(c) {
		var buf bytes.Buffer
		if err := payment.RenderAutoSubmit(&buf, *nav.form); err != nil {
			h.writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
		return
	}
	c.JSON(http.StatusOK, confirmResponse{State: res.State, Redirect: nav.form})
}

func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}
