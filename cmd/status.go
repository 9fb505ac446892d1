package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running gateway's health",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runStatus(); err != nil {
				fail(err)
			}
		},
	}
}

func runStatus() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("http://" + cfg.Gateway.Addr() + "/health")
	if err != nil {
		return fmt.Errorf("gateway not reachable at %s: %w", cfg.Gateway.Addr(), err)
	}
	defer resp.Body.Close()

	var health struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Uptime   string `json:"uptime"`
		Channels []struct {
			ID        string `json:"id"`
			Type      string `json:"type"`
			Connected bool   `json:"connected"`
		} `json:"channels"`
		OpenCode struct {
			Healthy bool `json:"healthy"`
		} `json:"opencode"`
		System struct {
			MemoryMB   uint64 `json:"memoryMB"`
			Goroutines int    `json:"goroutines"`
		} `json:"system"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	fmt.Printf("iris %s — %s (up %s)\n", health.Version, health.Status, health.Uptime)
	fmt.Printf("  Agent:      healthy=%v\n", health.OpenCode.Healthy)
	fmt.Printf("  Memory:     %d MB, %d goroutines\n", health.System.MemoryMB, health.System.Goroutines)
	fmt.Println("  Channels:")
	if len(health.Channels) == 0 {
		fmt.Println("    (none)")
	}
	for _, ch := range health.Channels {
		state := "disconnected"
		if ch.Connected {
			state = "connected"
		}
		fmt.Printf("    %-12s %-10s %s\n", ch.ID+":", ch.Type, state)
	}
	return nil
}
