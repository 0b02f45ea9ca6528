// Package middleware provides the gin middleware stack of the HTTP API.
//
//   - CORS: cross-origin access for browser front ends
//   - RateLimit / GlobalRateLimit: token bucket limits, per client IP or
//     for the whole server
//   - RequestID: X-Request-ID propagation
//   - AccessLog: one structured zap line per request
//   - Gzip: response compression for clients that accept it
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.AccessLog(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
