package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/sessions"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation → Agent session bindings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active session bindings",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runSessionList(); err != nil {
				fail(err)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <key>",
		Short: "Reset a binding; the next message starts a fresh Agent session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runSessionReset(args[0]); err != nil {
				fail(err)
			}
		},
	})
	return cmd
}

func openSessionMap() (*sessions.Map, error) {
	if _, _, err := loadConfig(); err != nil {
		return nil, err
	}
	return sessions.NewMap(config.StateDir())
}

func runSessionList() error {
	m, err := openSessionMap()
	if err != nil {
		return err
	}
	entries := m.List()
	if len(entries) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-40s %-16s last active %s\n", e.Key, e.AgentSessionID, e.LastActivity.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionReset(key string) error {
	m, err := openSessionMap()
	if err != nil {
		return err
	}
	existed, err := m.Reset(key)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("no session for key %q", key)
	}
	fmt.Printf("Session %s reset\n", key)
	return nil
}
