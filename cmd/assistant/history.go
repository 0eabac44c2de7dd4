package main

import (
	"fmt"

	"github.com/aethrix-hub/assistant/internal/services/storage"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage stored chat transcripts",
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <userKey>",
	Short: "Clear one user's chat history and start a new session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryClear,
}

func init() {
	historyCmd.AddCommand(historyClearCmd)
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	cfg, _, log, err := loadRuntime()
	if err != nil {
		return err
	}

	manager, err := storage.NewManager(cfg, log)
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.ClearHistory(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared history of %s\n", args[0])
	return nil
}
