package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/cloudtally/stacktally/internal/consumer"
	"github.com/cloudtally/stacktally/internal/notification"
)

var (
	injectFile       string
	injectDeployment string
)

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Publish events from a JSON file",
	Long: `Reads a JSON array of [routing_key, payload] envelopes and publishes
each payload onto the raw-events stream, as a control plane would. Useful for
development and for replaying captured notification samples.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(injectFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", injectFile, err)
		}
		var envelopes []notification.Envelope
		if err := json.Unmarshal(data, &envelopes); err != nil {
			return fmt.Errorf("parse %s: %w", injectFile, err)
		}

		nc, err := nats.Connect(natsURLFlag, nats.Name("stacktally-inject"))
		if err != nil {
			return fmt.Errorf("nats connect %s: %w", natsURLFlag, err)
		}
		defer nc.Close()
		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("jetstream context: %w", err)
		}
		if err := consumer.EnsureStream(js); err != nil {
			return err
		}

		for i, env := range envelopes {
			subject := consumer.SubjectFor(injectDeployment, env.RoutingKey)
			if _, err := js.Publish(subject, env.Payload); err != nil {
				return fmt.Errorf("publish envelope %d to %s: %w", i, subject, err)
			}
		}
		log.Printf("inject: published %d events from %s", len(envelopes), injectFile)
		return nil
	},
}

func init() {
	injectCmd.Flags().StringVar(&injectFile, "file", "", "JSON file of [routing_key, payload] envelopes")
	injectCmd.Flags().StringVar(&injectDeployment, "deployment", "local", "Deployment name or numeric id to publish under")
	_ = injectCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(injectCmd)
}
