package payment

import (
	"context"
	"io"
	"log"

	"imi-storefront/internal/domain"
	"imi-storefront/internal/tasks"
)

// Navigator carries the browser to the gateway. Once Navigate succeeds the
// tab has left the storefront.
type Navigator interface {
	Navigate(ctx context.Context, form Form) error
}

type cartRecoverer interface {
	RecoverCart(ctx context.Context, sessionID string) error
}

// Gateway hands a checkout off to the hosted payment page.
type Gateway struct {
	recoverer cartRecoverer
	tasks     tasks.Runner
	logger    *log.Logger
}

func NewGateway(recoverer cartRecoverer, runner tasks.Runner, logger *log.Logger) *Gateway {
	if runner == nil {
		runner = tasks.Reject{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Gateway{recoverer: recoverer, tasks: runner, logger: logger}
}

// Redirect builds the hand-off form and navigates. When sessionID is set
// the tab's abandoned cart is marked recovered in the background; that call
// is never awaited. Navigation errors are returned as is, without retry.
func (g *Gateway) Redirect(ctx context.Context, nav Navigator, data domain.PaymentData, sessionID string) error {
	form, err := NewForm(data)
	if err != nil {
		return err
	}
	if sessionID != "" && g.recoverer != nil {
		if !g.tasks.Go("cart-recover", func(ctx context.Context) error {
			return g.recoverer.RecoverCart(ctx, sessionID)
		}) {
			g.logger.Printf("payment gateway: cart recovery skipped session_id=%s", sessionID)
		}
	}
	return nav.Navigate(ctx, form)
}
