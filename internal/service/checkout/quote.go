package checkout

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"imi-storefront/internal/domain"
)

// DueNow splits total into the amount paid at checkout and the amount
// collected on delivery. PARTIAL rounds the half up, so the two parts
// always add up to total.
func DueNow(method domain.PaymentMethod, total int64) (now, onDelivery int64) {
	switch method {
	case domain.PaymentCOD:
		return 0, total
	case domain.PaymentPartial:
		now = (total + 1) / 2
		return now, total - now
	default:
		return total, 0
	}
}

// Quote is what the payment step shows for a method.
type Quote struct {
	Method        domain.PaymentMethod `json:"method"`
	Total         int64                `json:"total"`
	DueNow        int64                `json:"dueNow"`
	DueOnDelivery int64                `json:"dueOnDelivery"`
	Summary       string               `json:"summary"`
}

func newQuote(p *message.Printer, method domain.PaymentMethod, total int64) Quote {
	now, later := DueNow(method, total)
	q := Quote{Method: method, Total: total, DueNow: now, DueOnDelivery: later}
	switch method {
	case domain.PaymentCOD:
		q.Summary = p.Sprintf("Pay ₹%d on delivery", later)
	case domain.PaymentPartial:
		q.Summary = p.Sprintf("Pay ₹%d now, ₹%d on delivery", now, later)
	default:
		q.Summary = p.Sprintf("Pay ₹%d now", now)
	}
	return q
}

func printerFor(locale string) *message.Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag)
}
