package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/cron"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled Agent prompts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cron jobs",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runCronList(); err != nil {
				fail(err)
			}
		},
	})

	var (
		schedule string
		prompt   string
		channel  string
		chatID   string
		disabled bool
	)
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or replace a cron job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job := cron.Job{
				Name:     args[0],
				Schedule: schedule,
				Prompt:   prompt,
				Channel:  channel,
				ChatID:   chatID,
				Enabled:  !disabled,
			}
			if err := runCronAdd(job); err != nil {
				fail(err)
			}
		},
	}
	add.Flags().StringVar(&schedule, "schedule", "", "cron expression (e.g. \"0 9 * * 1-5\")")
	add.Flags().StringVar(&prompt, "prompt", "", "prompt sent to the Agent on each fire")
	add.Flags().StringVar(&channel, "channel", "", "channel id for delivery")
	add.Flags().StringVar(&chatID, "chat", "", "chat id for delivery")
	add.Flags().BoolVar(&disabled, "disabled", false, "create the job disabled")
	_ = add.MarkFlagRequired("schedule")
	_ = add.MarkFlagRequired("prompt")
	_ = add.MarkFlagRequired("channel")
	_ = add.MarkFlagRequired("chat")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a cron job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runCronRemove(args[0]); err != nil {
				fail(err)
			}
		},
	})
	return cmd
}

func openCronStore() (*cron.Store, error) {
	if _, _, err := loadConfig(); err != nil {
		return nil, err
	}
	return cron.NewStore(config.StateDir())
}

func runCronList() error {
	store, err := openCronStore()
	if err != nil {
		return err
	}
	jobs, err := store.List()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No cron jobs.")
		return nil
	}
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-20s %-16s %-8s → %s/%s", j.Name, j.Schedule, state, j.Channel, j.ChatID)
		if n := len(j.RunLog); n > 0 {
			last := j.RunLog[n-1]
			outcome := "ok"
			if !last.Success {
				outcome = "FAILED"
			}
			fmt.Printf("  (last run %s: %s)", last.StartedAt.Format("2006-01-02 15:04"), outcome)
		}
		fmt.Println()
	}
	return nil
}

func runCronAdd(job cron.Job) error {
	store, err := openCronStore()
	if err != nil {
		return err
	}
	if err := store.Add(job); err != nil {
		return err
	}
	fmt.Printf("Cron job %s saved (%s)\n", job.Name, job.Schedule)
	return nil
}

func runCronRemove(name string) error {
	store, err := openCronStore()
	if err != nil {
		return err
	}
	removed, err := store.Remove(name)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no cron job named %q", name)
	}
	fmt.Printf("Cron job %s removed\n", name)
	return nil
}
