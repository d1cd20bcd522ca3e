// Package observability provides structured logging, Prometheus metrics,
// and health checks for the identity service.
package observability
