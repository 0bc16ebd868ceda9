package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/model"
	"github.com/flowline-dev/flowline/internal/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the state file and print story statuses on every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.manager()
			if err != nil {
				return err
			}

			cmd.Println(renderStories(mgr.State()))

			w := watch.New(mgr.StatePath(), func(state *model.PipelineState) {
				cmd.Printf("--- %s\n%s", state.UpdatedAt, renderStories(state))
			}, watch.WithLogger(log.New(os.Stderr, "", 0)))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.Printf("watching %s (ctrl-c to stop)\n", mgr.StatePath())
			return w.Run(ctx)
		},
	}
}
