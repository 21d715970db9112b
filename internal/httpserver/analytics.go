package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"imi-storefront/internal/service/analytics"
)

type pageViewRequest struct {
	Page             string `json:"page" binding:"required"`
	Referrer         string `json:"referrer"`
	ScreenResolution string `json:"screenResolution"`
}

type clickRequest struct {
	Path             []analytics.Element `json:"path" binding:"required"`
	Page             string              `json:"page"`
	PageURL          string              `json:"pageUrl"`
	ScreenResolution string              `json:"screenResolution"`
}

type visibilityRequest struct {
	State            string `json:"state" binding:"required"`
	ScreenResolution string `json:"screenResolution"`
}

type unloadRequest struct {
	ScreenResolution string `json:"screenResolution"`
}

func browserClient(c *gin.Context, screen, referrer string) analytics.Client {
	return analytics.Client{UserAgent: c.Request.UserAgent(), ScreenResolution: screen, Referrer: referrer}
}

func (h *handlers) pageView(c *gin.Context) {
	var req pageViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page is required"})
		return
	}
	currentTab(c).Analytics.PageView(req.Page, browserClient(c, req.ScreenResolution, req.Referrer))
	c.Status(http.StatusAccepted)
}

func (h *handlers) click(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	tracked := currentTab(c).Analytics.Click(req.Path, req.Page, req.PageURL, browserClient(c, req.ScreenResolution, ""))
	c.JSON(http.StatusAccepted, gin.H{"tracked": tracked})
}

func (h *handlers) visibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
		return
	}
	currentTab(c).Analytics.Visibility(req.State, browserClient(c, req.ScreenResolution, ""))
	c.Status(http.StatusAccepted)
}

// unload accepts an empty body, as sent by beacon-style requests.
func (h *handlers) unload(c *gin.Context) {
	var req unloadRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	currentTab(c).Analytics.Unload(browserClient(c, req.ScreenResolution, ""))
	c.Status(http.StatusAccepted)
}
