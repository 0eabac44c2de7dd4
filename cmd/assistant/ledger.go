package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/internal/services/rotation"
	"github.com/aethrix-hub/assistant/internal/services/storage"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var maxIdle time.Duration

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain the model rotation ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the rotation ledger as JSON",
	RunE:  runLedgerShow,
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove users idle for longer than --max-idle",
	RunE:  runLedgerPrune,
}

func init() {
	ledgerPruneCmd.Flags().DurationVar(&maxIdle, "max-idle", 720*time.Hour, "Remove entries unused for this long")

	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerPruneCmd)
}

// openLedger returns the configured ledger and a cleanup func
func openLedger(cfg *config.Config, log *logrus.Logger) (rotation.LedgerStore, func(), error) {
	var client *redis.Client
	cleanup := func() {}
	if cfg.Rotation.Store == config.StoreRedis {
		var err error
		client, err = storage.NewRedisClient(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { client.Close() }
	}

	store, err := rotation.NewLedgerStore(cfg, client, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	cfg, _, log, err := loadRuntime()
	if err != nil {
		return err
	}

	store, cleanup, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	state, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runLedgerPrune(cmd *cobra.Command, args []string) error {
	cfg, _, log, err := loadRuntime()
	if err != nil {
		return err
	}
	if maxIdle <= 0 {
		return fmt.Errorf("--max-idle must be positive")
	}

	store, cleanup, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	removed, err := rotation.Prune(cmd.Context(), store, maxIdle, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d idle users\n", removed)
	return nil
}
