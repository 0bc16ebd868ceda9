package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/templates"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the pipeline directory, state file, and default workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(opts.dir, 0755); err != nil {
				return fmt.Errorf("create pipeline dir: %w", err)
			}

			wfPath := filepath.Join(opts.dir, workflowsFileName)
			if _, err := os.Stat(wfPath); os.IsNotExist(err) {
				content, err := templates.FS.ReadFile("workflows.yaml")
				if err != nil {
					return fmt.Errorf("read embedded workflows: %w", err)
				}
				if err := os.WriteFile(wfPath, content, 0644); err != nil {
					return fmt.Errorf("write %s: %w", wfPath, err)
				}
				cmd.Printf("created %s\n", wfPath)
			}

			mgr, err := opts.manager()
			if err != nil {
				return err
			}
			cmd.Printf("initialized pipeline for project %q at %s\n",
				mgr.State().Project, mgr.StatePath())
			return nil
		},
	}
}
