package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flowline-dev/flowline/internal/executor"
	"github.com/flowline-dev/flowline/internal/model"
	"github.com/flowline-dev/flowline/internal/pipeline"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		workflowName string
		runnerCmd    string
		failFast     bool
		parallel     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the current wave of ready stories",
		Long: "Selects every story whose dependencies are complete, then runs the " +
			"configured workflow's steps for each, checkpointing into the shared state file. " +
			"Without --runner the steps are dry-run.",
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

			holder := model.GenerateHolderID()
			if err := mgr.AcquireLock(holder); err != nil {
				return fmt.Errorf("pipeline busy: %w", err)
			}
			defer func() { _ = mgr.ReleaseLock(holder) }()

			ready, err := mgr.ReadyStories()
			if err != nil {
				return err
			}
			if len(ready) == 0 {
				cmd.Println("no stories ready to run")
				return nil
			}

			var runner executor.Runner = noopRunner{}
			if runnerCmd != "" {
				runner = &commandRunner{command: runnerCmd}
			}

			progress := func(stepID string, index, total int, status string) {
				cmd.Printf("  [%d/%d] %s %s\n", index+1, total, stepID, status)
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)
			for _, story := range ready {
				story := story
				g.Go(func() error {
					exec := executor.New(mgr, runner,
						executor.WithFailFast(failFast),
						executor.WithLogLevel(pipeline.ParseLogLevel(opts.logLevel)),
						executor.WithProgress(progress))

					results, err := exec.ExecuteStory(gctx, story.ID, steps, story.Path)
					if err != nil {
						return fmt.Errorf("story %s: %w", story.ID, err)
					}
					cmd.Printf("story %s: %s\n", story.ID, summarize(results, len(steps)))
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&workflowName, "workflow", "feature", "workflow to run for each story")
	cmd.Flags().StringVar(&runnerCmd, "runner", "", "external runner command (JSON on stdin/stdout); dry run when empty")
	cmd.Flags().BoolVar(&failFast, "fail-fast", true, "stop a story at its first failing step")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "max stories executed concurrently")
	return cmd
}

func summarize(results []model.StepResult, planned int) string {
	succeeded := 0
	for _, r := range results {
		if r.IsSuccess() {
			succeeded++
		}
	}
	if succeeded == planned {
		return fmt.Sprintf("all %d steps completed", planned)
	}
	return fmt.Sprintf("%d/%d steps completed (%d attempted)", succeeded, planned, len(results))
}
