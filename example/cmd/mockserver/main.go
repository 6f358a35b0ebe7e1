// Standalone mock backend for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/netpulse serve -c example/netpulse.yaml
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/netpulse/example/mockbackend"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	failRate := flag.Float64("fail-rate", 0.3, "probability that /api/ai fails")
	flag.Parse()

	fmt.Printf("Mock backend starting on %s\n", *addr)
	fmt.Println("Endpoints: /api/connections /api/icmp /api/sockets /api/ai")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mockbackend.New(*failRate, slog.Default()).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("mock server error", "error", err)
		os.Exit(1)
	}
}
