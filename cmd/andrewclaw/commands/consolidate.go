package commands

import (
	"fmt"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot"
	"github.com/spf13/cobra"
)

// newConsolidateCmd creates the `andrewclaw consolidate` command that runs
// extraction and consolidation on demand.
func newConsolidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consolidate [chat_id...]",
		Short: "Extract facts and prune transcripts now",
		Long: `Run fact extraction followed by memory consolidation, the same
sequence used on idle chats and at shutdown. Without arguments every chat
with a stored transcript is processed.

Examples:
  andrewclaw consolidate
  andrewclaw consolidate terminal -1001234567890`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if copilot.ResolveAPIKey(cfg, logger) == "" {
				return fmt.Errorf("an API key is required to consolidate")
			}

			a, err := copilot.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			skipExtract, _ := cmd.Flags().GetBool("skip-extract")
			ctx := cmd.Context()

			if len(args) == 0 {
				if args, err = a.History().ChatIDs(); err != nil {
					return err
				}
			}
			failed := 0
			for _, chatID := range args {
				if !skipExtract {
					if err := a.Extractor().ExtractAndPersist(ctx, chatID); err != nil {
						logger.Error("extraction failed", "chat_id", chatID, "error", err)
						failed++
					}
				}
				if err := a.Consolidator().Consolidate(ctx, chatID); err != nil {
					logger.Error("consolidation failed", "chat_id", chatID, "error", err)
					failed++
				}
			}
			fmt.Printf("Processed %d chat(s), %d failure(s).\n", len(args), failed)
			return nil
		},
	}
	cmd.Flags().Bool("skip-extract", false, "only consolidate, do not update ledgers")
	return cmd
}
