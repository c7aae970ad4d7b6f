package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"presto-notebook/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		secret string
		user   string
		groups []string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		Long:  "Sign an HS256 token with the host's JWT_SECRET. Intended for local development.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			if user == "" {
				return errors.New("--user is required")
			}
			tok, err := middleware.IssueHS256(secret, user, groups, ttl)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), map[string]string{"token": tok})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret (defaults to $JWT_SECRET)")
	cmd.Flags().StringVar(&user, "user", "", "Token subject")
	cmd.Flags().StringSliceVar(&groups, "group", nil, "Group principal (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
