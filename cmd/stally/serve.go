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
	"golang.org/x/sync/errgroup"

	"github.com/cloudtally/stacktally/internal/aggregator"
	"github.com/cloudtally/stacktally/internal/consumer"
	"github.com/cloudtally/stacktally/internal/daemon"
	"github.com/cloudtally/stacktally/internal/publisher"
	"github.com/cloudtally/stacktally/internal/verifier"
)

var serveStoreDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an embedded broker with both workers",
	Long: `Starts an embedded NATS server with JetStream, then runs the
aggregator consumer and the exists verifier against it. Intended for
single-host and development setups; production deployments point consume
and verify at an external broker instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		natsCfg := daemon.NATSConfigFromEnv(serveStoreDir)
		ns, err := daemon.StartNATSServer(natsCfg)
		if err != nil {
			return fmt.Errorf("start embedded broker: %w", err)
		}
		defer ns.Shutdown()
		log.Printf("serve: embedded broker on %s", ns.URL())

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		reg, err := loadDeployments()
		if err != nil {
			return fmt.Errorf("load deployments: %w", err)
		}

		js, err := ns.Conn().JetStream()
		if err != nil {
			return fmt.Errorf("jetstream context: %w", err)
		}
		if err := consumer.EnsureStream(js); err != nil {
			return err
		}
		if err := publisher.EnsureStream(js); err != nil {
			return err
		}

		agg := aggregator.New(store, nil, nil)
		c := consumer.New(ns.URL(), agg, reg)
		v, err := verifier.New(store, publisher.New(js, store, nil), verifier.Config{})
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.Run(gctx) })
		g.Go(func() error { return v.Run(gctx) })

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Printf("serve: shut down")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveStoreDir, "store-dir", ".stacktally", "Runtime directory for broker state")
	rootCmd.AddCommand(serveCmd)
}
