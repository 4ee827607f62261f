// Package session implements a single MQTT connection attempt.
//
// A Session moves through Idle → Connecting → Connected → Closing → Closed
// exactly once. It owns one transport connection and one keepalive monitor,
// and every timer it starts is tagged with its scheduler generation so that
// teardown cancels them as a group. Sessions are not reused: the reconnect
// layer creates a fresh Session for every attempt.
//
// Inbound traffic is converted into Events and handed to a Sink. The Sink is
// expected to queue them for a dispatcher; application code never runs on
// the session's read goroutine.
package session
