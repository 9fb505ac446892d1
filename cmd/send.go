package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel> <target> <message>",
		Short: "Send a message through a running gateway",
		Args:  cobra.MinimumNArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runSend(args[0], args[1], strings.Join(args[2:], " ")); err != nil {
				fail(err)
			}
		},
	}
}

// runSend posts through the tool server so the message goes out via the
// gateway's live adapter rather than a second transport connection.
func runSend(channel, target, text string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]string{
		"channel": channel,
		"chatId":  target,
		"text":    text,
	})
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post("http://"+cfg.Gateway.ToolServerAddr()+"/tool/send-message", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("is the gateway running? %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out struct {
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(data, &out)
	fmt.Printf("Sent to %s/%s (message id %s)\n", channel, target, out.MessageID)
	return nil
}
