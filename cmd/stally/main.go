// Command stally runs the cloud-instance telemetry pipeline: an event
// aggregator fed from JetStream, a periodic exists verifier, and the
// supporting plumbing (embedded broker, event injection).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudtally/stacktally/internal/telemetry"
)

// Version and Build are stamped at link time:
//
//	go build -ldflags "-X main.Version=... -X main.Build=..."
var (
	Version = "dev"
	Build   = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "stally",
	Short: "stally - cloud instance telemetry pipeline",
	Long: `Reconstructs per-instance lifecycles and usage records from compute
control-plane notifications, and periodically cross-checks exists audit
records before republishing them for billing.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("stally version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		applyViperOverrides(cmd)
		if err := telemetry.Init(cmd.Context(), "stally", Version); err != nil {
			return fmt.Errorf("telemetry init: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stally version %s (%s)\n", Version, Build)
	},
}

func init() {
	initConfig()
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
