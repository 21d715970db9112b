package httpserver

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type paymentResult struct {
	TxnID    string `json:"txnid"`
	Status   string `json:"status"`
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

var resultPage = template.Must(template.New("payment-result").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{if eq .Status "success"}}Payment successful{{else}}Payment failed{{end}}</title></head>
<body>
<h1>{{if eq .Status "success"}}Payment successful{{else}}Payment failed{{end}}</h1>
<p>{{.Message}}</p>
{{- if .TxnID}}
<p>Transaction: {{.TxnID}}</p>
{{- end}}
</body>
</html>
`))

func txnID(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("txnid")); id != "" {
		return id
	}
	return strings.TrimSpace(c.PostForm("txnid"))
}

// paymentSuccess is the gateway's return page. Verification is best-effort:
// the page renders whether or not it succeeds, and every tab of the device
// re-reads its cart afterwards.
func (h *handlers) paymentSuccess(c *gin.Context) {
	d := returnDevice(c)
	ctx := c.Request.Context()
	res := paymentResult{TxnID: txnID(c), Status: "success", Message: "Thank you! Your payment was received."}

	if d == nil {
		h.logger.Printf("httpserver: payment return from unknown device txnid=%s", res.TxnID)
		h.writePaymentResult(c, res)
		return
	}
	if res.TxnID != "" {
		if tok, err := d.Bridge.EnsureToken(ctx); err != nil {
			h.logger.Printf("httpserver: payment verify skipped device_id=%s txnid=%s error=%v", d.ID, res.TxnID, err)
		} else if v, err := h.account.VerifyPayment(ctx, tok, res.TxnID); err != nil {
			h.logger.Printf("httpserver: payment verify device_id=%s txnid=%s error=%v", d.ID, res.TxnID, err)
		} else {
			res.Verified = v.Success
			if v.Message != "" {
				res.Message = v.Message
			}
		}
	}

	for _, t := range h.registry.DeviceTabs(d.ID) {
		if err := t.Cart.Refresh(ctx); err != nil {
			h.logger.Printf("httpserver: cart refresh after payment session_id=%s error=%v", t.SessionID, err)
		}
	}
	h.writePaymentResult(c, res)
}

func (h *handlers) paymentFailure(c *gin.Context) {
	h.writePaymentResult(c, paymentResult{
		TxnID:   txnID(c),
		Status:  "failed",
		Message: "Your payment could not be completed. No amount has been charged.",
	})
}

func (h *handlers) writePaymentResult(c *gin.Context, res paymentResult) {
	if !wantsHTML(c) {
		c.JSON(http.StatusOK, res)
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := resultPage.Execute(c.Writer, res); err != nil {
		h.logger.Printf("httpserver: render payment result error=%v", err)
	}
}
