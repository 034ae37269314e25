// Package history reconciles interaction records into one authoritative,
// renderable history per conversation.
//
// A Conversation owns two views of its records:
//
//   - an index keyed by identity, used for duplicate suppression, update
//     lookup and causal walks
//   - a linear history, the order a client renders
//
// How records are placed in the linear history is delegated to an
// OrderingStrategy chosen once, when the conversation is constructed:
// SwarmOrdering linearizes a DAG of parent pointers, LegacyOrdering sorts
// lazily by timestamp.
//
// Concurrency: every Conversation method runs under one mutex, so the
// conversation is safe to share. Callers that need a global order across
// conversations route mutations through a single writer (see the engine
// package). Subscribers observe changes through notify topics and must
// tolerate snapshots that are already stale.
//
// Anomalies never abort a mutation. Orphaned inserts, unknown update
// targets, superseded loads, unattributable records and broken ancestry
// are logged and published as *Fault values on the Faults topic.
package history
