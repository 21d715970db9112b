package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"imi-storefront/internal/backend"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/session"
)

type syncOptions struct {
	Email    string
	Name     string
	Provider string
}

func newSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync <device-id>",
		Short: "Exchange an identity for a backend token and store it for a device",
		Long: `Calls the backend identity sync for the given email and stores the
returned session token under the device, as the identity bridge does after
a provider sign-in. Tabs of that device pick the token up on their next
poll or change-feed event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Email, "email", "", "email of the identity (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name; defaults to the email local part")
	cmd.Flags().StringVar(&opts.Provider, "provider", "google", "sign-in method reported to the backend")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, opts *syncOptions, deviceID string) error {
	ctx := cmd.Context()
	email := strings.TrimSpace(opts.Email)
	if email == "" {
		return failure(ExitCommandError, "email is required", nil)
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = strings.Split(email, "@")[0]
	}

	repo, closeRepo, err := openRepo(ctx, rootOpts)
	if err != nil {
		return err
	}
	defer closeRepo()

	client := backend.New(rootOpts.BackendURL, rootOpts.Timeout, nil)
	res, err := client.SyncIdentity(ctx, backend.SyncRequest{Email: email, Name: name, Provider: opts.Provider})
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) {
			return failure(ExitFailure, "backend refused sync", err)
		}
		return failure(ExitCommandError, "sync identity", err)
	}

	store := session.NewStore(deviceID, repo, clock.Real(), nil)
	if err := store.Save(ctx, res.Token, opts.Provider); err != nil {
		return failure(ExitCommandError, "store session token", err)
	}
	return printer{format: rootOpts.Format, w: cmd.OutOrStdout()}.print(
		map[string]any{"deviceId": deviceID, "userId": res.ID, "email": res.Email, "role": res.Role},
		field{"device", deviceID},
		field{"user", res.ID},
		field{"email", res.Email},
		field{"role", res.Role},
	)
}
