package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <file.nzb>...",
	Short: "Download NZB files and exit when they are done",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		quiet, _ := cmd.Flags().GetBool("quiet")

		// log lines would tear the progress bar
		rt, err := bootstrap(ctx, cmd, quiet)
		if err != nil {
			return err
		}
		defer rt.Close()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		runErr := make(chan error, 1)
		go func() {
			err := rt.service.Run(runCtx)
			cancel()
			runErr <- err
		}()

		queued := 0
		for _, path := range args {
			st, err := rt.service.Enqueue(runCtx, path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				continue
			}
			queued++
			rt.app.Logger.Info("Queued %s (%d files)", statusLine(*st), st.Files)
		}
		if queued == 0 {
			cancel()
			<-runErr
			return fmt.Errorf("nothing to download")
		}

		progressCtx, stopProgress := context.WithCancel(runCtx)
		progressDone := make(chan struct{})
		go func() {
			defer close(progressDone)
			if !quiet {
				rt.service.StartCLIProgress(progressCtx, cmd.OutOrStdout())
			}
		}()

		waitErr := rt.service.Wait(runCtx)
		stopProgress()
		<-progressDone
		cancel()
		if err := <-runErr; err != nil {
			return err
		}
		return waitErr
	},
}

func init() {
	getCmd.Flags().BoolP("quiet", "q", false, "log to stdout instead of drawing progress")
}

func statusLine(st domain.ArchiveStatus) string {
	return fmt.Sprintf("#%d %s [%s]", st.ID, st.Name, st.Status)
}
