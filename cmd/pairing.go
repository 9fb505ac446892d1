package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/security"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing requests",
	}

	var approvedBy string
	approve := &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing code and allowlist the sender",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runPairingApprove(args[0], approvedBy); err != nil {
				fail(err)
			}
		},
	}
	approve.Flags().StringVar(&approvedBy, "by", "owner", "who approved the code")
	cmd.AddCommand(approve)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runPairingList(); err != nil {
				fail(err)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <channel> <senderId>",
		Short: "Revoke a pending pairing request",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runPairingRevoke(args[0], args[1]); err != nil {
				fail(err)
			}
		},
	})
	return cmd
}

// openGate builds a gate over the persisted stores. The file locks make it
// safe to run alongside a live gateway process.
func openGate() (*security.Gate, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	stateDir := config.StateDir()
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, err
	}
	pairing, err := security.NewPairingStore(stateDir, cfg.Security.PairingTTL(), cfg.Security.PairingCodeLength)
	if err != nil {
		return nil, err
	}
	allowlist, err := security.NewAllowlistStore(stateDir)
	if err != nil {
		return nil, err
	}
	limiter := security.NewRateLimiter(cfg.Security.RateLimitPerMinute, cfg.Security.RateLimitPerHour)
	return security.NewGate(cfg.DMPolicyFor, limiter, pairing, allowlist), nil
}

func runPairingApprove(code, approvedBy string) error {
	gate, err := openGate()
	if err != nil {
		return err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	channelID, senderID, ok, err := gate.Approve(code, approvedBy)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown or expired pairing code: %s", code)
	}
	fmt.Printf("Approved %s on %s\n", senderID, channelID)
	return nil
}

func runPairingList() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := security.NewPairingStore(config.StateDir(), cfg.Security.PairingTTL(), cfg.Security.PairingCodeLength)
	if err != nil {
		return err
	}
	reqs, err := store.List()
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Println("No pending pairing requests.")
		return nil
	}
	for _, r := range reqs {
		fmt.Printf("%-10s %-12s %-20s expires %s\n", r.Code, r.ChannelID, r.SenderID, r.ExpiresAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runPairingRevoke(channelID, senderID string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := security.NewPairingStore(config.StateDir(), cfg.Security.PairingTTL(), cfg.Security.PairingCodeLength)
	if err != nil {
		return err
	}
	if err := store.Revoke(channelID, senderID); err != nil {
		return err
	}
	fmt.Printf("Revoked pairing for %s on %s\n", senderID, channelID)
	return nil
}
