package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/model"
)

var statusStyles = map[model.StoryStatus]lipgloss.Style{
	model.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	model.StatusReady:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	model.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	model.StatusInReview:   lipgloss.NewStyle().Foreground(lipgloss.Color("135")),
	model.StatusDone:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	model.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	model.StatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
}

var headerStyle = lipgloss.NewStyle().Bold(true)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline stories and their statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.manager()
			if err != nil {
				return err
			}

			state := mgr.State()
			cmd.Println(headerStyle.Render(fmt.Sprintf("project %s — %d stories (updated %s)",
				state.Project, len(state.Stories), state.UpdatedAt)))

			if holder, ok, err := mgr.LockHolder(); err == nil && ok {
				cmd.Printf("lock held by %s\n", holder)
			}

			cmd.Println(renderStories(state))
			return nil
		},
	}
}

func renderStories(state *model.PipelineState) string {
	ids := make([]string, 0, len(state.Stories))
	for id := range state.Stories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		story := state.Stories[id]
		style, ok := statusStyles[story.Status]
		if !ok {
			style = lipgloss.NewStyle()
		}

		fmt.Fprintf(&b, "  %-20s %-14s steps=%d",
			story.ID, style.Render(string(story.Status)), len(story.StepsCompleted))
		if story.CurrentStep != nil {
			fmt.Fprintf(&b, " current=%s", *story.CurrentStep)
		}
		if len(story.Dependencies) > 0 {
			fmt.Fprintf(&b, " deps=%s", strings.Join(story.Dependencies, ","))
		}
		b.WriteString("\n")
	}
	return b.String()
}
