// Package main is the entry point for the cmdproxy server.
//
// The server keeps long-lived interpreter sessions (sh, bash, cmd, pwsh or
// any configured profile) and exposes them over HTTP and WebSocket.
//
// The server provides:
//   - REST API for session lifecycle and command execution
//   - WebSocket streaming of session output and results
//   - Prometheus metrics on /metrics
//   - Per-profile spawn circuit breakers
//   - Rate limiting and response compression
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Optional profiles file in YAML or TOML
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -profile bash
//
//	# Development mode (colored logs, debug level)
//	./server -dev -profiles profiles.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
