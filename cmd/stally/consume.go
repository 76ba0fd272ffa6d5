package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudtally/stacktally/internal/aggregator"
	"github.com/cloudtally/stacktally/internal/consumer"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the event aggregator against the broker",
	Long: `Subscribes the durable aggregator consumer to the raw-events stream
and processes notifications until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		reg, err := loadDeployments()
		if err != nil {
			return fmt.Errorf("load deployments: %w", err)
		}

		agg := aggregator.New(store, nil, nil)
		c := consumer.New(natsURLFlag, agg, reg)

		log.Printf("consume: starting against %s", natsURLFlag)
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Printf("consume: shut down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}
