package users

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/config"
	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/boxhub/boxhub/internal/repository"
	"github.com/boxhub/boxhub/internal/services/identity"
)

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
	Long:  `Commands for managing users directly against the identity database.`,
}

var cfg *config.Config

// SetConfig hands the loaded configuration to the subcommands.
func SetConfig(c *config.Config) {
	cfg = c
}

// openIdentity connects to the database and builds an identity service on it.
// The caller must close the returned database.
func openIdentity() (*identity.Service, *bun.DB, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration not loaded")
	}

	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.Options{MaxConnections: cfg.MaxDBConnections})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	signer, err := auth.NewSigner([]byte(cfg.JWTSecret), cfg.JWTTTL)
	if err != nil {
		_ = bunx.Close(db)
		return nil, nil, fmt.Errorf("failed to create token signer: %w", err)
	}

	svc := identity.NewService(identity.Dependencies{
		Users:        repository.NewBunUserRepository(db),
		Sessions:     repository.NewBunSessionRepository(db),
		Entitlements: repository.NewBunEntitlementRepository(db),
		Signer:       signer,
	})
	return svc, db, nil
}

func init() {
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	tokenCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	tokenCmd.Flags().StringVar(&passwordFlag, "password", "", "Password of the user (use --stdin to avoid shell history)")
	tokenCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(tokenCmd)
}
