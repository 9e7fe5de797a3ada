package users

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/boxhub/boxhub/internal/db/bunx"
)

var (
	emailFlag    string
	passwordFlag string
	stdinFlag    bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
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

		user, err := svc.CreateUser(cmd.Context(), emailFlag, password)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "User created successfully!")
		fmt.Fprintln(out, "----------------------------------------")
		fmt.Fprintf(out, "User ID: %s\n", user.ID)
		fmt.Fprintf(out, "Email: %s\n", user.Email)
		fmt.Fprintln(out, "----------------------------------------")
		return nil
	},
}

// readPassword returns --password, or the first line of stdin with --stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	password := passwordFlag
	if stdinFlag {
		password = ""
		fmt.Fprint(cmd.ErrOrStderr(), "Enter password: ")
		scanner := bufio.NewScanner(cmd.InOrStdin())
		if scanner.Scan() {
			password = scanner.Text()
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
	}
	if password == "" {
		return "", fmt.Errorf("password is required (use --password or --stdin)")
	}
	return password, nil
}
