package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boxhub/boxhub/cmd/boxhub/cmd/access"
	"github.com/boxhub/boxhub/cmd/boxhub/cmd/users"
	"github.com/boxhub/boxhub/internal/config"
	"github.com/boxhub/boxhub/internal/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "boxhub",
	Short: "Dataset registry, identity and training orchestration for annotated image datasets",
	Long: `boxhub serves the identity service and the dataset registry with its training
orchestrator. Both sides can run in one process or as separate services that
share an event transport and delegate token validation over Connect RPC.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := applyFlagOverrides(cmd, cfg); err != nil {
			return err
		}

		logging.Setup(cfg.Debug)
		users.SetConfig(cfg)
		return nil
	},
}

// applyFlagOverrides lets persistent flags win over file and environment values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DatabaseURL, _ = flags.GetString("db-url")
	}
	if flags.Changed("server-addr") {
		cfg.ServerAddr, _ = flags.GetString("server-addr")
	}
	if flags.Changed("identity-url") {
		cfg.IdentityURL, _ = flags.GetString("identity-url")
	}
	if flags.Changed("datasets-url") {
		cfg.DatasetsURL, _ = flags.GetString("datasets-url")
	}
	if flags.Changed("redis-url") {
		cfg.RedisURL, _ = flags.GetString("redis-url")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	return cfg.Validate()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: SERVER_ADDR)")
	rootCmd.PersistentFlags().String("identity-url", "", "Identity service base URL (env: IDENTITY_URL)")
	rootCmd.PersistentFlags().String("datasets-url", "", "Datasets service base URL (env: DATASETS_URL)")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis URL for the event transport (env: REDIS_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")

	// Add subcommands
	rootCmd.AddCommand(users.UsersCmd)
	rootCmd.AddCommand(access.AccessCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
