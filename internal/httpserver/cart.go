package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"imi-storefront/internal/domain"
	cartsvc "imi-storefront/internal/service/cart"
)

type lineRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity"`
}

func (r lineRequest) key() domain.LineKey {
	return domain.LineKey{ProductID: r.ProductID, Variant: r.Variant}
}

func (h *handlers) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, currentTab(c).Cart.View())
}

func (h *handlers) refreshCart(c *gin.Context) {
	t := currentTab(c)
	if err := t.Cart.Refresh(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Cart.View())
}

func (h *handlers) addItem(c *gin.Context) {
	var in cartsvc.AddInput
	if err := c.ShouldBindJSON(&in); err != nil || in.ProductID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "productId is required"})
		return
	}
	t := currentTab(c)
	if err := t.Cart.Add(c.Request.Context(), in); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Cart.View())
}

func (h *handlers) updateItem(c *gin.Context) {
	var req lineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "productId is required"})
		return
	}
	t := currentTab(c)
	if err := t.Cart.UpdateQuantity(c.Request.Context(), req.key(), req.Quantity); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Cart.View())
}

func (h *handlers) removeItem(c *gin.Context) {
	var req lineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "productId is required"})
		return
	}
	t := currentTab(c)
	if err := t.Cart.Remove(c.Request.Context(), req.key()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Cart.View())
}

func (h *handlers) clearCart(c *gin.Context) {
	t := currentTab(c)
	if err := t.Cart.Clear(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Cart.View())
}
