// Package engine runs the per-account single-writer loop that feeds
// conversations.
//
// The sync layer hands the engine events from any goroutine with Enqueue.
// Engine.Run drains them one at a time, in FIFO order, and applies each
// to its conversation. Every record is stamped with a logical sequence
// number from Clock before it is inserted, so the archive can replay
// arrivals in their original order.
//
// Processing failures are logged with the event's context and the loop
// continues. Retrying inside the loop would reorder events relative to
// their arrival.
//
// When an Archive is configured, accepted mutations are written through
// to it, and Load reconstructs a conversation from it.
package engine
