package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"imi-storefront/internal/backend"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/service/checkout"
)

const (
	msgUpstream    = "Something went wrong. Please try again."
	msgSignInAgain = "Please sign in again."
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Step  string `json:"step,omitempty"`
}

// rejected reports the status of a backend 4xx: the backend refused the
// request itself rather than failing to serve it.
func rejected(err error) (int, bool) {
	var be *backend.Error
	if errors.As(err, &be) && be.StatusCode >= 400 && be.StatusCode < 500 {
		return be.StatusCode, true
	}
	return 0, false
}

func statusFor(err error) int {
	var ue *checkout.UserError
	switch {
	case errors.Is(err, domain.ErrAuthRequired), errors.Is(err, domain.ErrNoSession), backend.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errors.As(err, &ue):
		if ue.Field != "" || ue.Err == nil {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConfirmInFlight):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	}
	if code, ok := rejected(err); ok {
		if code == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

// writeError maps err onto a status and a message safe to show the user.
func (h *handlers) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := errorResponse{Error: msgUpstream}

	var ue *checkout.UserError
	_, refused := rejected(err)
	switch {
	case errors.As(err, &ue):
		body = errorResponse{Error: ue.Message, Field: ue.Field, Step: string(ue.Step)}
	case backend.IsUnauthorized(err):
		body.Error = msgSignInAgain
	case refused:
		h.logger.Printf("httpserver: %s %s refused error=%v", c.Request.Method, c.FullPath(), err)
		body.Error = backend.MessageOr(err, msgUpstream)
	case status == http.StatusBadGateway:
		h.logger.Printf("httpserver: %s %s error=%v", c.Request.Method, c.FullPath(), err)
	default:
		body.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
