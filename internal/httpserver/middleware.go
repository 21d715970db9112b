package httpserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"imi-storefront/internal/storefront"
)

const (
	deviceCookie  = "imi_device"
	sessionHeader = "X-Session-Id"

	deviceKey = "device"
	tabKey    = "tab"

	deviceCookieMaxAge = 365 * 24 * 60 * 60
)

// deviceMiddleware resolves the device cookie, issuing a fresh id when it
// is missing or malformed.
func deviceMiddleware(reg *storefront.Registry, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceFromCookie(c)
		if !ok {
			id = uuid.NewString()
			// Over https the cookie also rides cross-site posts, such as a
			// payment gateway returning to the storefront.
			if secure {
				c.SetSameSite(http.SameSiteNoneMode)
			} else {
				c.SetSameSite(http.SameSiteLaxMode)
			}
			c.SetCookie(deviceCookie, id, deviceCookieMaxAge, "/", "", secure, true)
		}
		d, err := reg.Device(id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "storefront unavailable"})
			return
		}
		c.Set(deviceKey, d)
		c.Next()
	}
}

func deviceFromCookie(c *gin.Context) (string, bool) {
	id, err := c.Cookie(deviceCookie)
	if err != nil || uuid.Validate(id) != nil {
		return "", false
	}
	return id, true
}

// returnMiddleware resolves the device on gateway return pages. The
// transaction id is matched first, then the cookie; a cookie is never
// issued here, since a cross-site post arrives without one and a fresh id
// would replace the signed-in device.
func returnMiddleware(reg *storefront.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d, ok := reg.PaymentDevice(txnID(c)); ok {
			c.Set(deviceKey, d)
		} else if id, ok := deviceFromCookie(c); ok {
			if d, err := reg.Device(id); err == nil {
				c.Set(deviceKey, d)
			}
		}
		c.Next()
	}
}

// tabMiddleware resolves the tab named by the session header.
func tabMiddleware(reg *storefront.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := strings.TrimSpace(c.GetHeader(sessionHeader))
		if sid == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": sessionHeader + " header required"})
			return
		}
		t, err := reg.Tab(currentDevice(c).ID, sid)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown session, open a new tab"})
			return
		}
		c.Set(tabKey, t)
		c.Next()
	}
}

func currentDevice(c *gin.Context) *storefront.Device {
	return c.MustGet(deviceKey).(*storefront.Device)
}

// returnDevice is the device resolved by returnMiddleware, or nil.
func returnDevice(c *gin.Context) *storefront.Device {
	v, ok := c.Get(deviceKey)
	if !ok {
		return nil
	}
	return v.(*storefront.Device)
}

func currentTab(c *gin.Context) *storefront.Tab {
	return c.MustGet(tabKey).(*storefront.Tab)
}
