package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/executor"
	"github.com/flowline-dev/flowline/internal/model"
	"github.com/flowline-dev/flowline/internal/pipeline"
)

func newResumeCmd(opts *rootOptions) *cobra.Command {
	var (
		workflowName string
		runnerCmd    string
		failFast     bool
	)

	cmd := &cobra.Command{
		Use:   "resume <story-id>",
		Short: "Resume a story from its last checkpoint",
		Long: "Re-runs only the workflow steps not yet present in the story's " +
			"checkpoint history; already-completed steps are never re-invoked.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.manager()
			if err != nil {
				return err
			}
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			steps, err := reg.Steps(workflowName)
			if err != nil {
				return err
			}

			story, ok := mgr.Story(args[0])
			if !ok {
				return fmt.Errorf("story not found: %s", args[0])
			}

			holder := model.GenerateHolderID()
			if err := mgr.AcquireLock(holder); err != nil {
				return fmt.Errorf("pipeline busy: %w", err)
			}
			defer func() { _ = mgr.ReleaseLock(holder) }()

			var runner executor.Runner = noopRunner{}
			if runnerCmd != "" {
				runner = &commandRunner{command: runnerCmd}
			}

			exec := executor.New(mgr, runner,
				executor.WithFailFast(failFast),
				executor.WithLogLevel(pipeline.ParseLogLevel(opts.logLevel)),
				executor.WithProgress(func(stepID string, index, total int, status string) {
					cmd.Printf("  [%d/%d] %s %s\n", index+1, total, stepID, status)
				}))

			results, err := exec.ResumeStory(cmd.Context(), story.ID, steps, story.Path)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				cmd.Printf("story %s: nothing to resume\n", story.ID)
				return nil
			}
			cmd.Printf("story %s: resumed %d steps\n", story.ID, len(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowName, "workflow", "feature", "workflow the story follows")
	cmd.Flags().StringVar(&runnerCmd, "runner", "", "external runner command (JSON on stdin/stdout); dry run when empty")
	cmd.Flags().BoolVar(&failFast, "fail-fast", true, "stop at the first failing step")
	return cmd
}
