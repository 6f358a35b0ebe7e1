// Package netpulse is a polling engine for JSON endpoints.
//
// It provides three layers, each usable on its own:
//
//   - [Controller]: runs one poll function on a fixed interval with a
//     bounded retry budget and start/stop/toggle controls
//   - [Registry]: a keyed set of independent polling tasks, each fetching
//     a URL and keeping its latest payload
//   - [Session]: a Registry served over HTTP as JSON, Server-Sent Events
//     and a WebSocket stream, with Prometheus metrics
//
// # Controller
//
// A Controller never overlaps executions of its function. The next tick is
// armed only after the previous execution finished, so a slow function
// stretches the cadence instead of piling up calls:
//
//	c, err := netpulse.NewController(func(ctx context.Context) error {
//	    return refresh(ctx)
//	},
//	    netpulse.WithInterval(5*time.Second),
//	    netpulse.WithMaxRetries(3),
//	    netpulse.WithOnError(func(err error) { slog.Error("refresh failed", "error", err) }),
//	    netpulse.WithAutoStart(true),
//	)
//
// A failure is retried up to MaxRetries times (after [WithRetryDelay] or a
// [WithRetryBackOff] policy) before onError runs once. Stopping the
// controller cancels the execution context and discards any result that
// arrives afterwards.
//
// # Registry
//
// Tasks are created by [Registry.SetConfig] and started by
// [Registry.StartPolling]. Each task has its own timer, retry count and
// data, and a failing task never affects another:
//
//	r, _ := netpulse.NewRegistry()
//	defer r.Close()
//
//	_ = r.SetConfig("icmp",
//	    netpulse.WithTaskURL("http://localhost:8000/api/icmp"),
//	    netpulse.WithTaskInterval(10*time.Second),
//	)
//	_ = r.StartPolling("icmp")
//
//	snap, _ := r.Task("icmp")
//
// A task that fails MaxRetries times in a row stops itself and keeps its
// last good data. Results of a fetch that was overtaken by a stop, restart
// or URL change are discarded.
//
// # Session
//
// [New] builds a Session from [TaskSpec] values and [Session.Start] serves
// it until the context is cancelled:
//
//	s, _ := netpulse.New(netpulse.WithTask(spec), netpulse.WithPort(8080))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	s.Start(ctx)
//
// # Architecture
//
// netpulse consists of several internal packages (under internal/):
//
//   - internal/poller: HTTP JSON fetch client and path selection
//   - internal/store: In-memory task records with pub/sub for live updates
//   - internal/server: REST API, Server-Sent Events and WebSocket streams
//   - internal/metrics: Prometheus collectors for task activity
//   - internal/clock: Real and manual timers for deterministic tests
//
// The internal packages are not part of the public API and may change
// without notice. The config package and cmd/netpulse provide a standalone
// binary driven by a YAML or TOML file.
package netpulse
