// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics, debug introspection and the admin command
// socket of the data plane.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads with reload listeners
//   - A file watcher feeding configuration reloads
//   - Metric collectors sampled on demand
//   - Debug probes and a line-oriented unix socket command server
package control
