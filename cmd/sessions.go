package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pigforge/gopig/internal/config"
	"github.com/pigforge/gopig/internal/session"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	cmd.AddCommand(sessionsCleanupCmd())
	return cmd
}

func openManager() *session.Manager {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	store, err := session.NewStore(config.ExpandPath(cfg.Sessions.Storage))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return session.NewManager(store)
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Run: func(cmd *cobra.Command, args []string) {
			metas, err := openManager().List()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(metas) == 0 {
				fmt.Println("no sessions")
				return
			}
			for _, m := range metas {
				fmt.Printf("%-38s %-24s %5d entries  updated %s\n",
					m.ID, m.Name, m.Entries, m.UpdatedAt.Format("2006-01-02 15:04"))
			}
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session's active conversation path",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s, ok := openManager().Get(args[0])
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: session %s not found\n", args[0])
				os.Exit(1)
			}
			for _, e := range s.PathToCurrent() {
				fmt.Printf("[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Role, e.Content)
			}
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := openManager().Delete(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("deleted %s\n", args[0])
		},
	}
}

func sessionsCleanupCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sessions not updated recently",
		Run: func(cmd *cobra.Command, args []string) {
			removed, err := openManager().Cleanup(olderThan)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("removed %d sessions\n", removed)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete sessions older than this")
	return cmd
}
