// Package journal keeps a capped, SQLite-backed log of client events:
// connects, connection failures, inbound messages, publishes, subscribes
// and daemon notices.
//
// The journal holds at most MaxEntries rows; every Append prunes the oldest
// rows beyond that cap in the same transaction. Entries carry a UUID so they
// can be referenced from the API and console.
//
// Recorder adapts a Journal to the mqtt Handler callbacks so the client can
// feed it directly.
package journal
