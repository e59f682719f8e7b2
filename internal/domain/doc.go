// Package domain contains the core entities and value objects of the offline
// synchronization engine.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (HTTP, SQLite, logging) and holds only the data
// model and the rules that can be checked without I/O.
//
// # Entities
//
//   - [Mutation]: a locally originated write waiting for the remote service
//   - [CachedPage]: a remote page or asset kept for offline browsing
//   - [Cursor]: the last applied point in a collection's change stream
//   - [Discard]: a local mutation dropped by conflict resolution
//   - [ConnectivityState]: Online, Offline or Degraded
//   - [EntityState]: the remote's current view of one entity
package domain
