package agentapi

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const spawnWaitTimeout = 30 * time.Second

// Spawn starts a local Agent server process ("opencode serve") and waits
// until its health endpoint answers. The returned stop function terminates
// the process.
func Spawn(ctx context.Context, client *Client, port int, projectDir string) (func(), error) {
	args := []string{"serve", "--port", strconv.Itoa(port)}
	cmd := exec.CommandContext(ctx, "opencode", args...)
	if projectDir != "" {
		cmd.Dir = projectDir
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn agent: %w", err)
	}
	log.Info().Int("pid", cmd.Process.Pid).Int("port", port).Msg("spawned agent process")

	deadline := time.Now().Add(spawnWaitTimeout)
	for time.Now().Before(deadline) {
		if client.CheckHealth(ctx) {
			stop := func() {
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				_ = cmd.Wait()
			}
			return stop, nil
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	_ = cmd.Process.Kill()
	return nil, fmt.Errorf("spawned agent did not become healthy within %s", spawnWaitTimeout)
}
