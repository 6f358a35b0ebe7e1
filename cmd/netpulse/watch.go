package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/netpulse"
)

const defaultWatchRetryDelay = time.Second

// watchCmd polls a single URL with a Controller and prints every payload.
var watchCmd = &cobra.Command{
	Use:   "watch URL",
	Short: "Poll one URL and print each payload",
	Long: `Poll a single JSON endpoint and print every payload as one line on stdout.

Failed fetches are retried after --retry-delay (doubling with --exponential)
up to --max-retries times before the failure is reported. Polling continues
after a reported failure unless --exit-on-error is set.

Example:
  netpulse watch http://localhost:8000/api/icmp --interval 5s --immediate
  netpulse watch https://api.example.com/status --select data.state --count 3`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	f := watchCmd.Flags()
	f.Duration("interval", netpulse.DefaultTaskConfig().Interval, "delay between the end of one fetch and the next")
	f.Int("max-retries", 3, "retries of a failed fetch before the failure is reported")
	f.Duration("retry-delay", defaultWatchRetryDelay, "delay before the first retry")
	f.Bool("exponential", false, "double the retry delay after every failed retry")
	f.Bool("immediate", false, "fetch right away instead of after one interval")
	f.String("select", "", "dotted JSON path to print instead of the whole body")
	f.Duration("timeout", 0, "per-request timeout (0 uses the client default)")
	f.StringToString("header", nil, "request header as key=value (repeatable)")
	f.Int("count", 0, "exit after this many successful fetches (0 runs until interrupted)")
	f.Bool("exit-on-error", false, "exit when a failure exhausts its retries")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	flags := cmd.Flags()

	interval, _ := flags.GetDuration("interval")
	maxRetries, _ := flags.GetInt("max-retries")
	retryDelay, _ := flags.GetDuration("retry-delay")
	exponential, _ := flags.GetBool("exponential")
	immediate, _ := flags.GetBool("immediate")
	selectPath, _ := flags.GetString("select")
	timeout, _ := flags.GetDuration("timeout")
	headers, _ := flags.GetStringToString("header")
	count, _ := flags.GetInt("count")
	exitOnError, _ := flags.GetBool("exit-on-error")

	target := netpulse.DefaultTaskConfig()
	for _, opt := range []netpulse.ConfigOption{
		netpulse.WithTaskURL(args[0]),
		netpulse.WithTaskTimeout(timeout),
		netpulse.WithTaskSelect(selectPath),
		netpulse.WithTaskHeaders(headers),
	} {
		if err := opt(&target); err != nil {
			return err
		}
	}
	if target.URL == "" {
		return errors.New("url cannot be empty")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	fetcher := netpulse.NewHTTPFetcher()
	defer fetcher.Close()

	out := &lineWriter{w: cmd.OutOrStdout()}
	fetched := 0
	poll := func(ctx context.Context) error {
		payload, err := fetcher.Fetch(ctx, target)
		if err != nil {
			return err
		}
		if out.writeLine(payload) {
			fetched++
			if count > 0 && fetched >= count {
				cancel(nil)
			}
		}
		return nil
	}

	opts := []netpulse.ControllerOption{
		netpulse.WithInterval(interval),
		netpulse.WithImmediate(immediate),
		netpulse.WithMaxRetries(maxRetries),
		netpulse.WithRetryDelay(retryDelay),
		netpulse.WithControllerLogger(logger),
		netpulse.WithContext(ctx),
		netpulse.WithOnError(func(err error) {
			logger.Error("fetch failed", "url", target.URL, "error", err)
			if exitOnError {
				cancel(fmt.Errorf("giving up on %s: %w", target.URL, err))
			}
		}),
	}
	if exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = retryDelay
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		opts = append(opts, netpulse.WithRetryBackOff(eb))
	}

	controller, err := netpulse.NewController(poll, opts...)
	if err != nil {
		return err
	}

	logger.Info("watching", "url", target.URL, "interval", interval.String())
	controller.Start()
	<-ctx.Done()
	controller.Stop()
	out.close()

	if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// lineWriter serializes payload output and drops writes once closed, so a
// fetch finishing after shutdown prints nothing.
type lineWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func (l *lineWriter) writeLine(p []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	_, _ = fmt.Fprintf(l.w, "%s\n", p)
	return true
}

func (l *lineWriter) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
