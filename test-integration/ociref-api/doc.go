// Package integration provides integration tests for the reference server.
// They run the complete application against real listeners and each
// storage backend that needs no external service.
package integration
