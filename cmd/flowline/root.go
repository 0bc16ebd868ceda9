package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/pipeline"
	"github.com/flowline-dev/flowline/internal/registry"
)

const workflowsFileName = "workflows.yaml"

type rootOptions struct {
	dir      string
	project  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "flowline",
		Short:         "Dependency-aware story pipeline runner",
		Long:          "Flowline coordinates multi-step stories with inter-dependencies across cooperating worker processes sharing one state file.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.dir, "dir", ".flowline", "pipeline directory holding state and config")
	cmd.PersistentFlags().StringVar(&opts.project, "project", "", "project name (used when creating fresh state)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newInitCmd(opts),
		newStoryCmd(opts),
		newStatusCmd(opts),
		newPlanCmd(opts),
		newDetectCyclesCmd(opts),
		newRunCmd(opts),
		newResumeCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func (o *rootOptions) manager() (*pipeline.Manager, error) {
	mgr := pipeline.NewManager(o.dir, o.project,
		pipeline.WithLogger(log.New(os.Stderr, "", 0)),
		pipeline.WithLogLevel(pipeline.ParseLogLevel(o.logLevel)))
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("load pipeline state: %w", err)
	}
	return mgr, nil
}

func (o *rootOptions) registry() (*registry.Registry, error) {
	return registry.Load(filepath.Join(o.dir, workflowsFileName))
}
