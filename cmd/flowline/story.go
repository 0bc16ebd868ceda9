package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/model"
)

func newStoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "story",
		Short: "Manage pipeline stories",
	}
	cmd.AddCommand(newStoryAddCmd(opts), newStorySetStatusCmd(opts), newStoryRetryCmd(opts))
	return cmd
}

func newStoryAddCmd(opts *rootOptions) *cobra.Command {
	var (
		name string
		path string
		deps []string
		epic string
	)

	cmd := &cobra.Command{
		Use:   "add <story-id>",
		Short: "Add or replace a story in the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.manager()
			if err != nil {
				return err
			}

			story := &model.PipelineStory{
				ID:           args[0],
				Name:         name,
				Path:         path,
				Status:       model.StatusPending,
				Dependencies: deps,
			}
			if story.Name == "" {
				story.Name = story.ID
			}
			if epic != "" {
				story.Epic = &epic
			}

			mgr.AddStory(story)
			if err := mgr.Save(); err != nil {
				return err
			}
			cmd.Printf("added story %s (deps: %d)\n", story.ID, len(story.Dependencies))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "story name")
	cmd.Flags().StringVar(&path, "path", "", "path to the story document")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "story ids this story depends on")
	cmd.Flags().StringVar(&epic, "epic", "", "epic tag")
	return cmd
}

func newStorySetStatusCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "set-status <story-id> <status>",
		Short: "Set a story's status (propagates done/failed through the graph)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, status := args[0], model.StoryStatus(args[1])
			if !model.IsValidStatus(status) {
				return fmt.Errorf("unknown status %q", status)
			}

			mgr, err := opts.manager()
			if err != nil {
				return err
			}

			if !force {
				if story, ok := mgr.Story(id); ok {
					if err := model.ValidateStoryTransition(story.Status, status); err != nil {
						return fmt.Errorf("%w (use --force to override)", err)
					}
				}
			}

			if err := mgr.UpdateStoryStatus(id, status); err != nil {
				return err
			}
			cmd.Printf("story %s → %s\n", id, status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip transition validation")
	return cmd
}

func newStoryRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <story-id>",
		Short: "Reset a failed or blocked story to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.manager()
			if err != nil {
				return err
			}

			story, ok := mgr.Story(args[0])
			if !ok {
				return fmt.Errorf("story not found: %s", args[0])
			}
			if story.Status != model.StatusFailed && story.Status != model.StatusBlocked {
				return fmt.Errorf("story %s is %s, only failed or blocked stories can be retried",
					story.ID, story.Status)
			}

			if err := mgr.UpdateStoryStatus(story.ID, model.StatusPending); err != nil {
				return err
			}
			cmd.Printf("story %s reset to pending\n", story.ID)
			return nil
		},
	}
}
