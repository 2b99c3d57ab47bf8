package cli

import (
	"context"
	"io"
	"time"

	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/parser"
	"github.com/pkg/errors"
	"github.com/radovskyb/watcher"
	"github.com/spf13/cobra"
)

const defaultPollInterval = time.Second

func newWatchCommand(newLog func(*cobra.Command) *logger.Logger) *cobra.Command {
	opts := &filterOptions{}
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Filter a trace file and re-filter it whenever it is written",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return watchTrace(ctx, args[0], interval, opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), newLog(cmd))
		},
	}
	opts.bind(cmd)
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "poll interval")
	return cmd
}

// watchTrace prints the filtered trace once, then again after every write to
// path, until ctx is done.
func watchTrace(ctx context.Context, path string, interval time.Duration, opts *filterOptions, stdout, stderr io.Writer, log *logger.Logger) error {
	if interval < time.Millisecond {
		return errors.Errorf("poll interval %s is too short", interval)
	}
	c, err := opts.criteria()
	if err != nil {
		return err
	}

	engine := parser.NewEngine(parser.WithEmptyTextPolicy(parser.EmptyTextClear))
	if err := engine.SetCriteria(c); err != nil {
		return err
	}
	engine.Subscribe(func(r parser.Result) {
		if err := opts.writeResult(stdout, stderr, r); err != nil {
			log.Error().Err(err).Msg("failed to write output")
		}
	})

	text, err := opts.readTrace(path)
	if err != nil {
		return err
	}
	engine.SetText(text)

	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write)
	if err := w.Add(path); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- w.Start(interval)
	}()
	w.Wait()
	defer closeWatcher(w)

	for {
		select {
		case <-w.Event:
			log.Info().Str("path", path).Msg("trace file changed")
			text, err := opts.readTrace(path)
			if err != nil {
				log.Error().Err(err).Msg("failed to read trace file")
				continue
			}
			engine.SetText(text)
		case err := <-w.Error:
			log.Error().Err(err).Msg("error on watching trace file")
		case err := <-errc:
			return err
		case <-w.Closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// closeWatcher stops w. Close blocks until the poll loop sees it, so pending
// events are drained meanwhile.
func closeWatcher(w *watcher.Watcher) {
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-w.Event:
			case <-w.Error:
			case <-stop:
				return
			}
		}
	}()
	w.Close()
	close(stop)
}
