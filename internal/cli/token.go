package cli

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/repository/token"
	"imi-storefront/internal/session"
)

type tokenInfo struct {
	DeviceID  string    `json:"deviceId"`
	Provider  string    `json:"provider,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	Expired   bool      `json:"expired"`
	Token     string    `json:"token"`
}

func openRepo(ctx context.Context, opts *RootOptions) (token.Repository, func(), error) {
	repo, closeRepo, err := token.Open(ctx, opts.DSN, log.New(io.Discard, "", 0))
	if err != nil {
		return nil, nil, failure(ExitCommandError, "open session store", err)
	}
	return repo, closeRepo, nil
}

func newTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show or clear a device's session token",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <device-id>",
		Short: "Show the stored session token of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenShow(cmd, opts, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <device-id>",
		Short: "Delete a device's session token, signing it out of the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenClear(cmd, opts, args[0])
		},
	})
	return cmd
}

func runTokenShow(cmd *cobra.Command, opts *RootOptions, deviceID string) error {
	ctx := cmd.Context()
	repo, closeRepo, err := openRepo(ctx, opts)
	if err != nil {
		return err
	}
	defer closeRepo()

	rec, err := repo.Get(ctx, deviceID)
	if errors.Is(err, domain.ErrNotFound) {
		return failure(ExitFailure, "no session token for device "+deviceID, nil)
	}
	if err != nil {
		return failure(ExitCommandError, "read session token", err)
	}
	live, err := session.NewStore(deviceID, repo, clock.Real(), nil).Token(ctx)
	if err != nil {
		return failure(ExitCommandError, "read session token", err)
	}

	info := tokenInfo{
		DeviceID:  deviceID,
		Provider:  rec.Provider,
		UpdatedAt: rec.UpdatedAt,
		Expired:   live == "",
		Token:     mask(rec.Token),
	}
	return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(info,
		field{"device", info.DeviceID},
		field{"provider", info.Provider},
		field{"updated", info.UpdatedAt.Format(time.RFC3339)},
		field{"expired", info.Expired},
		field{"token", info.Token},
	)
}

func runTokenClear(cmd *cobra.Command, opts *RootOptions, deviceID string) error {
	ctx := cmd.Context()
	repo, closeRepo, err := openRepo(ctx, opts)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := session.NewStore(deviceID, repo, clock.Real(), nil).Clear(ctx); err != nil {
		return failure(ExitCommandError, "clear session token", err)
	}
	return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(
		map[string]any{"deviceId": deviceID, "cleared": true},
		field{"device", deviceID},
		field{"cleared", true},
	)
}

// mask keeps enough of a token to tell two apart.
func mask(tok string) string {
	if len(tok) <= 12 {
		return "***"
	}
	return tok[:8] + "..." + tok[len(tok)-4:]
}
