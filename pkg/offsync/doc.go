// Package offsync provides an embeddable offline-first sync client.
//
// The client keeps a durable local queue of edits and a bounded cache of
// remote pages. While the remote service is reachable it replays queued
// edits in order, resolves conflicts last-writer-wins and pulls remote
// changes into the cache. While it is not, reads are served from the
// cache and edits keep accumulating.
//
// # Basic Usage
//
//	cfg := offsync.Config{
//	    ServiceURL:  "https://cmms.example.com",
//	    AuthToken:   "token",
//	    DataDir:     "/var/lib/offsync",
//	    Collections: []string{"work_order", "asset"},
//	}
//
//	client, err := offsync.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := client.Enqueue(ctx, offsync.Mutation{
//	    EntityType: "work_order",
//	    EntityKey:  "WO-17",
//	    Kind:       offsync.OpUpdate,
//	    Payload:    json.RawMessage(`{"status":"done"}`),
//	})
//
// Enqueue returns once the edit is durable. Edits are never lost because
// of a crash; an edit interrupted mid-send is replayed under the same
// operation id and the remote applies it at most once.
//
// # Connectivity
//
// [Client.Connectivity] reports Online, Degraded or Offline without
// blocking. [Client.Subscribe] yields every transition:
//
//	for tr := range client.Subscribe(ctx) {
//	    fmt.Println(tr.From, "->", tr.To)
//	}
//
// A slow subscriber loses the oldest transitions, never the newest.
// Degraded links are used for pulling only.
//
// # Failed Edits
//
// Edits the remote rejects, or that fail MaxAttempts times, move to the
// dead-letter list. Use [Client.DeadLetters], [Client.Requeue] and
// [Client.Purge] to inspect and handle them. Edits dropped because a newer
// remote write won a conflict are listed by [Client.Discards].
//
// # Corruption
//
// New returns [ErrStoreCorrupted] when the database cannot be read. The
// client never deletes data on its own; call [Reset] to start over.
//
// # Lifecycle States
//
// A Client is in one of five states: [StateStopped], [StateStarting],
// [StateRunning], [StateStopping] or [StateCrashed]. A local store failure
// while running moves the client to StateCrashed; [Client.Err] returns the
// cause.
package offsync
