package access

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxhub/boxhub/internal/rpc"
)

var (
	serverFlag string
	tokenFlag  string
	datasetID  string
)

// AccessCmd asks the datasets service for an access decision, the way file
// storage does before serving a dataset's files.
var AccessCmd = &cobra.Command{
	Use:   "access",
	Short: "Query dataset access decisions",
	// Client commands need no server configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Check whether a token may read a dataset",
	Long:  `Calls DatasetAccessService/UserHasReadAccess. The token is optional; anonymous callers may read public datasets.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return check(cmd, func(ctx context.Context, c *rpc.DatasetAccessClient, token string) (bool, error) {
			return c.UserHasReadAccess(ctx, token, datasetID)
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Check whether a token may modify a dataset",
	Long:  `Calls DatasetAccessService/UserHasWriteAccess. A valid token is required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return check(cmd, func(ctx context.Context, c *rpc.DatasetAccessClient, token string) (bool, error) {
			return c.UserHasWriteAccess(ctx, token, datasetID)
		})
	},
}

func check(cmd *cobra.Command, call func(context.Context, *rpc.DatasetAccessClient, string) (bool, error)) error {
	if datasetID == "" {
		return fmt.Errorf("--dataset flag is required")
	}
	url := serverFlag
	if url == "" {
		url = os.Getenv("SERVER_URL")
	}
	if url == "" {
		url = "http://localhost:8080"
	}
	token := tokenFlag
	if token == "" {
		token = os.Getenv("BOXHUB_TOKEN")
	}

	client := rpc.NewDatasetAccessClient(http.DefaultClient, url)
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	allowed, err := call(ctx, client, token)
	if err != nil {
		return fmt.Errorf("access check failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), allowed)
	return nil
}

func init() {
	AccessCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Datasets service URL (env: SERVER_URL)")
	AccessCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Session token (env: BOXHUB_TOKEN)")
	AccessCmd.PersistentFlags().StringVar(&datasetID, "dataset", "", "Dataset id")

	AccessCmd.AddCommand(readCmd)
	AccessCmd.AddCommand(writeCmd)
}
