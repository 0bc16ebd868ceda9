package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/wave"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Analyze the dependency graph: waves, critical path, hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.manager()
			if err != nil {
				return err
			}

			analysis, err := mgr.AnalyzeDependencies()
			if err != nil {
				var cycleErr *wave.CycleError
				if errors.As(err, &cycleErr) {
					return fmt.Errorf("cannot plan: %w", cycleErr)
				}
				return err
			}

			if analysis.TotalTasks == 0 {
				cmd.Println("nothing to plan: no open stories")
				return nil
			}

			for _, w := range analysis.Waves {
				ids := make([]string, 0, len(w.Tasks))
				for _, t := range w.Tasks {
					ids = append(ids, t.ID)
				}
				cmd.Printf("wave %d (%.1fh): %s\n", w.Number, w.MaxHours, strings.Join(ids, ", "))
			}

			cmd.Printf("critical path: %s (%.1fh)\n",
				strings.Join(analysis.CriticalPath.TaskIDs, " → "), analysis.CriticalPath.TotalHours)
			cmd.Printf("sequential %.1fh, parallel %.1fh across %d stories\n",
				analysis.TotalSequentialHours, analysis.TotalParallelHours, analysis.TotalTasks)
			return nil
		},
	}
}

func newDetectCyclesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect-cycles",
		Short: "Check the full story set for dependency cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.manager()
			if err != nil {
				return err
			}

			if mgr.DetectCycles() {
				return fmt.Errorf("dependency cycle detected; fix the story graph")
			}
			cmd.Println("no cycles detected")
			return nil
		},
	}
}
