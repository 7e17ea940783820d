package commands

import (
	"fmt"
	"strings"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot"
	"github.com/spf13/cobra"
)

// newHistoryCmd creates the `andrewclaw history` command.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <chat_id>",
		Short: "Print the stored transcript of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := copilot.OpenHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			limit, _ := cmd.Flags().GetInt("limit")
			turns, err := store.Load(args[0], limit)
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				fmt.Printf("No history for %s.\n", args[0])
				return nil
			}
			for _, t := range turns {
				fmt.Printf("%-9s %s\n", strings.ToUpper(t.Role)+":", t.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 0, "show only the last N entries (0 = all)")
	return cmd
}
