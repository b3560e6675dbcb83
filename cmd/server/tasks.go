package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/queue"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("160"))
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage background tasks",
	}

	var description string
	launch := &cobra.Command{
		Use:   "launch <name> [args...]",
		Short: "Queue a one-off run of a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: withQueue(func(ctx context.Context, a *App, cmd *cobra.Command, args []string) error {
			taskArgs := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				taskArgs = append(taskArgs, arg)
			}
			task, err := a.orch.LaunchTask(ctx, args[0], description, nil, taskArgs...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s as %s\n", task.Name, task.ID)
			return nil
		}),
	}
	launch.Flags().StringVarP(&description, "description", "d", "", "Task description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks in progress and scheduled tasks",
		RunE: withQueue(func(ctx context.Context, a *App, cmd *cobra.Command, args []string) error {
			running, err := a.orch.GetTasksInProgress(ctx)
			if err != nil {
				return err
			}
			for _, t := range running {
				t.Progress = a.orch.GetProgress(ctx, t)
			}
			scheduled, err := a.orch.GetScheduledTasksInProgress(ctx)
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), running, scheduled)
			return nil
		}),
	}

	var scheduled bool
	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a task or, with --scheduled, a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: withQueue(func(ctx context.Context, a *App, cmd *cobra.Command, args []string) error {
			var (
				ok  bool
				err error
			)
			if scheduled {
				ok, err = a.orch.CancelScheduledTask(ctx, queue.ID(args[0]))
			} else {
				ok, err = a.orch.CancelTask(ctx, queue.ID(args[0]))
			}
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has already left the queue\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		}),
	}
	cancel.Flags().BoolVar(&scheduled, "scheduled", false, "The id names a scheduled task")

	var purge bool
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List jobs that exhausted their retries",
		RunE: withQueue(func(ctx context.Context, a *App, cmd *cobra.Command, args []string) error {
			return printFailed(ctx, cmd.OutOrStdout(), a.queue, purge)
		}),
	}
	failed.Flags().BoolVar(&purge, "purge", false, "Remove the listed jobs from the failed registry")

	cmd.AddCommand(launch, list, cancel, failed)
	return cmd
}

// withQueue loads the app for a command that needs the task queue.
func withQueue(run func(ctx context.Context, a *App, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := loadApp(ctx, "tasks")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireQueue(); err != nil {
			return err
		}
		return run(ctx, a, cmd, args)
	}
}

func printTasks(out io.Writer, running []*models.Task, scheduled []*models.ScheduledTask) {
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Tasks in progress (%d)", len(running))))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION\tPROGRESS\tCREATED")
	for _, t := range running {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n", t.ID, t.Name, t.Description, t.Progress, t.CreatedAt.Format(models.DisplayTimeLayout))
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Scheduled tasks (%d)", len(scheduled))))
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tINTERVAL\tREPEAT\tPROGRESS\tMESSAGE")
	for _, s := range scheduled {
		repeat := "forever"
		if s.Repeat != nil {
			repeat = fmt.Sprint(*s.Repeat)
		}
		fmt.Fprintf(w, "%s\t%s\t%ds\t%s\t%d%%\t%s\n", s.ID, s.Name, s.Interval, repeat, s.Progress, s.Message)
	}
	w.Flush()
}

func printFailed(ctx context.Context, out io.Writer, q *queue.Queue, purge bool) error {
	ids, err := q.FailedJobIDs(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Failed jobs (%d)", len(ids))))
	for _, id := range ids {
		job, err := q.Fetch(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			fmt.Fprintf(out, "%s\t(expired)\n", id)
		} else {
			fmt.Fprintf(out, "%s\t%s\tended %s\n", job, failedStyle.Render(firstLine(job.ExcInfo)), job.Ended.Format(models.DisplayTimeLayout))
		}
		if purge {
			if err := q.RemoveFailed(ctx, id, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
