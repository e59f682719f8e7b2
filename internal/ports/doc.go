// Package ports defines the interfaces that connect the application layer
// to infrastructure adapters.
//
// # Port Interfaces
//
//   - [Remote]: probe, push and pull against the authoritative service
//   - [Store]: the durable local store (pages, mutation log, cursors)
//   - [Logger]: structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The application layer (internal/app) depends only on these interfaces.
// Adapters (internal/adapters) implement them with SQLite, net/http and
// zerolog.
package ports
