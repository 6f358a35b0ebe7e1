// Package server provides the HTTP API over the task record store.
//
// This package is internal to netpulse and handles all HTTP concerns:
//
//   - REST API: task records at "/api/tasks" and "/api/tasks/{key}"
//   - Task control: POST "/api/tasks/{key}/start", "/stop" and "/toggle"
//   - Server-Sent Events: real-time record updates at "/api/sse"
//   - WebSocket: the same updates at "/api/ws"
//   - Metrics: Prometheus exposition at "/metrics"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the netpulse library should not need to interact with this
// package directly. The server is started by [netpulse.Session.Start].
package server
