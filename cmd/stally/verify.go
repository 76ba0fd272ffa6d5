package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/cloudtally/stacktally/internal/publisher"
	"github.com/cloudtally/stacktally/internal/verifier"
)

var (
	verifyTickTime    int
	verifySettleTime  int
	verifySettleUnits string
	verifyPoolSize    int
	verifyRunOnce     bool
	verifyNoPublish   bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the exists verifier",
	Long: `Periodically scans for settled pending exists records, verifies each
against the usage and delete tables, and republishes the verified ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var pub verifier.Publisher
		var nc *nats.Conn
		if !verifyNoPublish {
			nc, err = nats.Connect(natsURLFlag, nats.Name("stacktally-verifier"))
			if err != nil {
				return fmt.Errorf("nats connect %s: %w", natsURLFlag, err)
			}
			defer nc.Close()
			js, err := nc.JetStream()
			if err != nil {
				return fmt.Errorf("jetstream context: %w", err)
			}
			if err := publisher.EnsureStream(js); err != nil {
				return err
			}
			pub = publisher.New(js, store, nil)
		}

		v, err := verifier.New(store, pub, verifier.Config{
			TickTime:    time.Duration(verifyTickTime) * time.Second,
			SettleTime:  verifySettleTime,
			SettleUnits: verifySettleUnits,
			PoolSize:    verifyPoolSize,
		})
		if err != nil {
			return err
		}

		if verifyRunOnce {
			return v.RunOnce(ctx)
		}

		log.Printf("verify: starting, tick %ds, settle %d %s, pool %d",
			verifyTickTime, verifySettleTime, verifySettleUnits, verifyPoolSize)
		if err := v.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Printf("verify: shut down")
		return nil
	},
}

func init() {
	verifyCmd.Flags().IntVar(&verifyTickTime, "tick-time", 30, "Seconds between pending-record scans")
	verifyCmd.Flags().IntVar(&verifySettleTime, "settle-time", 10, "How long a record must settle before verification, in --settle-units")
	verifyCmd.Flags().StringVar(&verifySettleUnits, "settle-units", "minutes", "Units for --settle-time: seconds, minutes, hours, or days")
	verifyCmd.Flags().IntVar(&verifyPoolSize, "pool-size", 10, "Number of concurrent verification workers")
	verifyCmd.Flags().BoolVar(&verifyRunOnce, "run-once", false, "Process one batch and exit")
	verifyCmd.Flags().BoolVar(&verifyNoPublish, "no-publish", false, "Verify without republishing verified records")
	rootCmd.AddCommand(verifyCmd)
}
