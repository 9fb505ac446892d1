package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/security"
)

func securityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "security",
		Short: "Manage DM admission",
	}
	cmd.AddCommand(allowlistCmd())
	return cmd
}

func allowlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Manage the approved-sender list",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List approved senders",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runAllowlistList(); err != nil {
				fail(err)
			}
		},
	})

	var approvedBy string
	add := &cobra.Command{
		Use:   "add <channel> <senderId>",
		Short: "Approve a sender directly, bypassing pairing",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runAllowlistAdd(args[0], args[1], approvedBy); err != nil {
				fail(err)
			}
		},
	}
	add.Flags().StringVar(&approvedBy, "by", "owner", "who approved the sender")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <channel> <senderId>",
		Short: "Revoke a sender's approval",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runAllowlistRemove(args[0], args[1]); err != nil {
				fail(err)
			}
		},
	})
	return cmd
}

func openAllowlist() (*security.AllowlistStore, error) {
	if _, _, err := loadConfig(); err != nil {
		return nil, err
	}
	return security.NewAllowlistStore(config.StateDir())
}

func runAllowlistList() error {
	store, err := openAllowlist()
	if err != nil {
		return err
	}
	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Allowlist is empty.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-12s %-20s approved by %s on %s\n", e.ChannelID, e.SenderID, e.ApprovedBy, e.ApprovedAt.Format("2006-01-02"))
	}
	return nil
}

func runAllowlistAdd(channelID, senderID, approvedBy string) error {
	store, err := openAllowlist()
	if err != nil {
		return err
	}
	if err := store.Add(channelID, senderID, approvedBy); err != nil {
		return err
	}
	fmt.Printf("Approved %s on %s\n", senderID, channelID)
	return nil
}

func runAllowlistRemove(channelID, senderID string) error {
	store, err := openAllowlist()
	if err != nil {
		return err
	}
	if err := store.Remove(channelID, senderID); err != nil {
		return err
	}
	fmt.Printf("Removed %s on %s\n", senderID, channelID)
	return nil
}
