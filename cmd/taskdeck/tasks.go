package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"taskdeck/internal/orchestrator"
	"taskdeck/internal/tasks"
)

// listCmd implements 'taskdeck list'.
func listCmd(a *app) *cobra.Command {
	var filter, search string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print tasks in display order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := tasks.ParseStatus(filter)
			if err != nil {
				return err
			}
			repo, _, _, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			snapshot, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			visible := tasks.Visible(snapshot, tasks.Query{Search: search, Status: status})
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(visible, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(data))
				return nil
			}
			printTasks(os.Stdout, visible, tasks.Summarize(snapshot))
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "all", "all, active or completed")
	cmd.Flags().StringVarP(&search, "search", "s", "", "match title or description")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func printTasks(w io.Writer, list []tasks.Task, st tasks.Stats) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No tasks.")
	}
	for _, t := range list {
		box := "[ ]"
		if t.Completed {
			box = "[x]"
		}
		line := fmt.Sprintf("%s %s", box, t.Title)
		if due := tasks.FormatDue(t.DueDate); due != "" {
			line += "  due " + due
		}
		fmt.Fprintf(w, "%s  (%s)\n", line, t.ID)
	}
	fmt.Fprintf(w, "\n%d tasks, %d active, %d done\n", st.Total, st.Active, st.Completed)
}

// addCmd implements 'taskdeck add'.
func addCmd(a *app) *cobra.Command {
	var description, due string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task at the top of the list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, orch, _, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			draft := tasks.Draft{Title: strings.Join(args, " "), Description: description, DueDate: due}
			return report(cmd.Context(), orch, orch.Create(draft))
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")
	return cmd
}

// clearCompletedCmd implements 'taskdeck clear-completed'.
func clearCompletedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete every completed task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, orch, _, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			snapshot, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			return report(cmd.Context(), orch, orch.ClearCompleted(snapshot))
		},
	}
}

// report runs one orchestrated mutation and prints its notice.
func report(ctx context.Context, orch *orchestrator.Orchestrator, call orchestrator.Call) error {
	out := call(ctx)
	orch.Finish(out)
	if !out.Notice.IsZero() {
		msg := out.Notice.Title
		if out.Notice.Body != "" {
			msg += ": " + out.Notice.Body
		}
		fmt.Fprintln(os.Stdout, msg)
	}
	return out.Err
}
