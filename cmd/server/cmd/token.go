package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipdeck/server/internal/config"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a session token for a user",
		Long: `Issue a signed session token for an existing user. The token is accepted
anywhere an API key is. Requires JWT_SECRET.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			logger := config.NewLoggerTo(cfg.Logging, cmd.ErrOrStderr())

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.users.Bootstrap(ctx, cfg.Bootstrap.AdminAPIKey, cfg.Bootstrap.ClipboardAPIKey); err != nil {
				return fmt.Errorf("bootstrap users: %w", err)
			}
			list, err := a.users.List(ctx)
			if err != nil {
				return err
			}
			for _, u := range list {
				if strings.EqualFold(u.Username, args[0]) {
					token, err := a.authn.IssueToken(u.Principal())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), token)
					return nil
				}
			}
			return fmt.Errorf("user %q not found", args[0])
		},
	}
}
