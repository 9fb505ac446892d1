package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/iris/internal/agentapi"
	"github.com/nextlevelbuilder/iris/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("iris doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := config.ResolvePath(cfgFile)
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config:   INVALID (%s)\n", err)
	} else {
		fmt.Println("  Config:   valid")
	}

	// State directory
	fmt.Println()
	stateDir := config.StateDir()
	fmt.Printf("  State dir: %s", stateDir)
	if err := checkWritable(stateDir); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
	} else {
		fmt.Println(" (OK)")
	}

	// Agent backend
	fmt.Println()
	fmt.Printf("  Agent:    %s", cfg.OpenCode.BaseURL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if agentapi.NewClient(cfg.OpenCode.BaseURL()).CheckHealth(ctx) {
		fmt.Println(" (OK)")
	} else if cfg.OpenCode.AutoSpawn {
		fmt.Println(" (unreachable, will auto-spawn)")
	} else {
		fmt.Println(" (UNREACHABLE)")
	}

	// Channels
	fmt.Println()
	fmt.Println("  Channels:")
	if len(cfg.Channels) == 0 {
		fmt.Println("    (none configured)")
	}
	for _, id := range sortedChannelIDs(cfg) {
		ch := cfg.Channels[id]
		checkChannel(id, ch)
	}

	// External tools
	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("opencode")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func sortedChannelIDs(cfg *config.Config) []string {
	ids := cfg.EnabledChannels()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for id := range cfg.Channels {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func checkChannel(id string, ch config.ChannelConfig) {
	hasCredentials := true
	switch config.TrimmedType(ch.Type) {
	case "telegram", "discord":
		hasCredentials = ch.Token != ""
	case "slack":
		hasCredentials = (ch.BotToken != "" || ch.Token != "") && ch.AppToken != ""
	}
	status := "disabled"
	if ch.Enabled && hasCredentials {
		status = "enabled"
	} else if ch.Enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %-10s %s\n", id+":", ch.Type, status)
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
