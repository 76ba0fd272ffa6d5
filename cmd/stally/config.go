package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudtally/stacktally/internal/config"
	"github.com/cloudtally/stacktally/internal/deployments"
	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/storage/factory"
	"github.com/cloudtally/stacktally/internal/telemetry"
)

// Shared flag-bound globals. Viper fills them from stacktally.yaml and
// STALLY_ env vars when the flag is not set explicitly.
var (
	backendFlag     string
	dbFlag          string
	natsURLFlag     string
	deploymentsFlag string
)

// initConfig wires viper: STALLY_ env prefix, stacktally.yaml searched in the
// CWD and $HOME/.stacktally/, and the shared persistent flags.
func initConfig() {
	viper.SetEnvPrefix("STALLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("stacktally")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".stacktally"))
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file: %v\n", err)
		}
	}

	// stacktally.yaml in the CWD, read directly, seeds the defaults layer.
	// Flags, env vars, and viper's own config file still win over it.
	local := config.LoadLocalConfigWithEnv(".")
	viper.SetDefault("backend", firstNonEmpty(local.Backend, factory.BackendSQLite))
	viper.SetDefault("db", firstNonEmpty(local.Database, "stacktally.db"))
	viper.SetDefault("nats-url", firstNonEmpty(local.NATSURL, "nats://127.0.0.1:4222"))
	if local.Deployments != "" {
		viper.SetDefault("deployments", local.Deployments)
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&backendFlag, "backend", "", "Storage backend: sqlite or mysql (default sqlite)")
	pf.StringVar(&dbFlag, "db", "", "SQLite database path (sqlite backend)")
	pf.StringVar(&natsURLFlag, "nats-url", "", "NATS broker URL")
	pf.StringVar(&deploymentsFlag, "deployments", "", "Path to deployments.toml")

	_ = viper.BindPFlag("backend", pf.Lookup("backend"))
	_ = viper.BindPFlag("db", pf.Lookup("db"))
	_ = viper.BindPFlag("nats-url", pf.Lookup("nats-url"))
	_ = viper.BindPFlag("deployments", pf.Lookup("deployments"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// applyViperOverrides copies the effective (flag > env > file > default)
// values into the flag-bound globals before command Run functions read them.
func applyViperOverrides(cmd *cobra.Command) {
	backendFlag = viper.GetString("backend")
	dbFlag = viper.GetString("db")
	natsURLFlag = viper.GetString("nats-url")
	deploymentsFlag = viper.GetString("deployments")
}

// openStore builds the configured storage backend, wrapped with telemetry
// instrumentation when enabled.
func openStore(ctx context.Context) (storage.Storage, error) {
	opts := factory.Options{
		ServerHost:     viper.GetString("mysql-host"),
		ServerPort:     viper.GetInt("mysql-port"),
		ServerUser:     viper.GetString("mysql-user"),
		ServerPassword: viper.GetString("mysql-password"),
		Database:       viper.GetString("mysql-database"),
	}
	store, err := factory.NewWithOptions(ctx, backendFlag, dbFlag, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", backendFlag, err)
	}
	return telemetry.WrapStorage(store), nil
}

// loadDeployments loads the deployment registry from the configured TOML
// path, or the builtins when no path is set.
func loadDeployments() (*deployments.Registry, error) {
	return deployments.Load(deploymentsFlag)
}
