package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot"
	"github.com/spf13/cobra"
)

// newChatsCmd creates the `andrewclaw chats` command listing the registry.
func newChatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List every chat the assistant has seen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			entries, err := copilot.NewChatRegistry(cfg.RegistryPath(), logger).GetAll()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No chats registered yet.")
				return nil
			}

			ids := make([]string, 0, len(entries))
			for id := range entries {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool {
				return entries[ids[i]].LastSeen > entries[ids[j]].LastSeen
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT ID\tSOURCE\tTYPE\tNAME\tLAST SEEN")
			for _, id := range ids {
				e := entries[id]
				name := e.Title
				if name == "" {
					name = e.Username
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, e.Source, e.Type, name, e.LastSeen)
			}
			return w.Flush()
		},
	}
}
