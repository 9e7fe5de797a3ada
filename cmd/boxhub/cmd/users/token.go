package users

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxhub/boxhub/internal/db/bunx"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Log in as a user and print a session token",
	Long: `Verifies the user's credentials and prints a fresh session token, usable as
"Authorization: Bearer <token>" or as the Authentication cookie.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" {
			return fmt.Errorf("--email flag is required")
		}
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}

		svc, db, err := openIdentity()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		tok, err := svc.Login(cmd.Context(), emailFlag, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), tok.Value)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", tok.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}
