package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"noteen/backend/internal/config"
	"noteen/backend/internal/models"
)

var (
	overdueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	upcomingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	longTermStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	doneStyle     = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	titleStyle    = lipgloss.NewStyle().Bold(true)
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all task groups in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			groups, err := st.tasks.List(cmd.Context())
			if err != nil {
				return err
			}
			writeGroups(cmd.OutOrStdout(), models.DisplayOrder(groups), time.Now())
			return nil
		},
	}
}

func nearestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nearest",
		Short: "Print the incomplete task with the nearest future due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			nearest, err := st.tasks.Nearest(cmd.Context())
			if err != nil {
				return err
			}
			if nearest == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No upcoming task")
				return nil
			}
			writeGroups(cmd.OutOrStdout(), []models.TaskGroup{*nearest}, time.Now())
			return nil
		},
	}
}

func writeGroups(w io.Writer, groups []models.TaskGroup, now time.Time) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No tasks")
		return
	}
	for _, g := range groups {
		fmt.Fprintln(w, formatGroup(g, now))
		for _, st := range g.SubTasks {
			fmt.Fprintln(w, "    "+formatSubTask(st))
		}
	}
}

func formatGroup(g models.TaskGroup, now time.Time) string {
	var b strings.Builder
	b.WriteString(checkbox(g.Completed))
	b.WriteString(" ")
	if g.Completed {
		b.WriteString(doneStyle.Render(g.Title))
	} else {
		b.WriteString(titleStyle.Render(g.Title))
	}
	if g.DueDate != nil {
		b.WriteString("  ")
		b.WriteString(dueStyle(models.DueDateStatusAt(g.DueDate, now)).Render(g.DueDate.Local().Format("2006-01-02 15:04")))
	}
	return b.String()
}

func formatSubTask(st models.SubTask) string {
	title := st.Title
	if st.Completed {
		title = doneStyle.Render(title)
	}
	return checkbox(st.Completed) + " " + title
}

func dueStyle(status models.DueDateStatus) lipgloss.Style {
	switch status {
	case models.DueDateOverdue:
		return overdueStyle
	case models.DueDateUpcoming:
		return upcomingStyle
	default:
		return longTermStyle
	}
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}
