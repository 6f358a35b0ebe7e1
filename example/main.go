package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/netpulse"
	"github.com/jpalmerr/netpulse/example/mockbackend"
)

func main() {
	// start the mock backend on a free port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		slog.Error("failed to listen", "error", err)
		os.Exit(1)
	}
	backend := &http.Server{
		Handler:           mockbackend.New(0.3, slog.Default()).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = backend.Serve(ln) }()
	base := "http://" + ln.Addr().String()

	task := func(key, path string, interval time.Duration, autoStart bool) netpulse.TaskSpec {
		cfg := netpulse.DefaultTaskConfig()
		cfg.URL = base + path
		cfg.Interval = interval
		cfg.Immediate = true
		return netpulse.TaskSpec{Key: key, Config: cfg, AutoStart: autoStart}
	}

	s, err := netpulse.New(
		netpulse.WithTasks(
			task("connections", "/api/connections", 3*time.Second, true),
			task("icmp", "/api/icmp", 5*time.Second, true),
			task("sockets", "/api/sockets", 30*time.Second, false),
			task("ai", "/api/ai", 2*time.Second, true),
		),
		netpulse.WithPort(8080),
		netpulse.WithTitle("netpulse demo"),
		netpulse.WithUpdateCallback(func(snap netpulse.TaskSnapshot) {
			if snap.GaveUp() {
				slog.Warn("task gave up", "task", snap.Key, "error", snap.LastError)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  netpulse demo")
	fmt.Println()
	fmt.Println("  Tasks:   http://localhost:8080/api/tasks")
	fmt.Println("  Stream:  http://localhost:8080/api/sse")
	fmt.Println("  Metrics: http://localhost:8080/metrics")
	fmt.Println()
	fmt.Println("  Start the idle task with:")
	fmt.Println("    curl -X POST http://localhost:8080/api/tasks/sockets/start")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		slog.Error("netpulse error", "error", err)
		os.Exit(1)
	}
	_ = backend.Close()
}
