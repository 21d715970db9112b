package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"imi-storefront/internal/backend"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/session"
)

func newCartCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cart <device-id>",
		Short: "Show the server cart of a device's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCart(cmd, opts, args[0])
		},
	}
}

func runCart(cmd *cobra.Command, opts *RootOptions, deviceID string) error {
	ctx := cmd.Context()
	repo, closeRepo, err := openRepo(ctx, opts)
	if err != nil {
		return err
	}
	defer closeRepo()

	tok, err := session.NewStore(deviceID, repo, clock.Real(), nil).Token(ctx)
	if err != nil {
		return failure(ExitCommandError, "read session token", err)
	}
	if tok == "" {
		return failure(ExitFailure, "no live session token for device "+deviceID, nil)
	}

	cart, err := backend.New(opts.BackendURL, opts.Timeout, nil).GetCart(ctx, tok)
	if err != nil {
		return failure(ExitFailure, "fetch cart", err)
	}

	p := printer{format: opts.Format, w: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return p.print(cart)
	}
	if cart.Empty() {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "cart is empty")
		return err
	}
	for _, l := range cart.Items {
		label := l.Name
		if l.Variant != "" {
			label += " (" + l.Variant + ")"
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-32s x%-3d %8d\n", label, l.Quantity, l.Price); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%-32s %13d\n", fmt.Sprintf("total (%d items)", cart.ItemCount()), cart.TotalAmount)
	return err
}
