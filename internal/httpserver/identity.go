package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/service/identity"
)

type principalRequest struct {
	ID          string `json:"id" binding:"required"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// pushIdentityRequest mirrors a provider's auth callback. A null principal
// means the provider signed out.
type pushIdentityRequest struct {
	Principal *principalRequest `json:"principal"`
}

type meResponse struct {
	Authenticated bool             `json:"authenticated"`
	HasToken      bool             `json:"hasToken"`
	Identity      *domain.Identity `json:"identity"`
}

func (h *handlers) openTab(c *gin.Context) {
	t, err := h.registry.OpenTab(currentDevice(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header(sessionHeader, t.SessionID)
	c.JSON(http.StatusCreated, gin.H{"sessionId": t.SessionID})
}

func (h *handlers) pushIdentity(c *gin.Context) {
	d := currentDevice(c)
	p, ok := d.Provider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown identity provider"})
		return
	}
	var req pushIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid principal"})
		return
	}
	if req.Principal == nil {
		p.Set(nil)
	} else {
		p.Set(&identity.Principal{ID: req.Principal.ID, Email: req.Principal.Email, DisplayName: req.Principal.DisplayName})
	}
	h.me(c)
}

func (h *handlers) me(c *gin.Context) {
	d := currentDevice(c)
	tok, err := d.Store.Token(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	id := d.Bridge.Identity()
	c.JSON(http.StatusOK, meResponse{Authenticated: id != nil, HasToken: tok != "", Identity: id})
}

func (h *handlers) signOut(c *gin.Context) {
	if err := currentDevice(c).Bridge.SignOut(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) orders(c *gin.Context) {
	tok, err := currentDevice(c).Bridge.EnsureToken(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	orders, err := h.account.MyOrders(c.Request.Context(), tok)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *handlers) listProducts(c *gin.Context) {
	page, err := h.catalog.Products(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handlers) getProduct(c *gin.Context) {
	p, err := h.catalog.Product(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
