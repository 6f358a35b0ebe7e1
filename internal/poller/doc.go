// Package poller provides the HTTP JSON fetch client used by netpulse tasks.
//
// This package is internal to netpulse. The main components are:
//
//   - [Client]: HTTP client wrapper with pooled connections, per-request
//     timeouts and a 1MB body limit
//   - [Request] and [Result]: one JSON GET and its parsed payload
//   - [FetchError]: the single error shape for transport, status and parse failures
//   - [SelectPath]: dotted-path narrowing of a JSON payload
//
// Scheduling lives in the netpulse package; this package only knows how to
// perform one fetch.
package poller
