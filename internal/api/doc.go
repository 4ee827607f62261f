// Package api implements the HTTP API of LightLink Core.
//
// This package provides:
//   - Connection status and statistics for the MQTT client
//   - The lighting node snapshot and light level commands
//   - Journal queries
//   - A WebSocket event stream of client callbacks
//   - Prometheus metrics at /metrics
//
// # Architecture
//
// The server is a thin layer over the MQTT client and the lighting controller.
// Commands are published to the node through the controller; client callbacks
// reach WebSocket subscribers through the Hub, which is registered as one of
// the client's handlers.
//
// # Event Stream
//
// GET /api/v1/events carries JSON frames. The server sends
// {"kind":"event","channel":"message","at":...,"data":{...}} for each client
// callback on a followed channel. Peers send "follow" or "ignore" frames with
// a "channels" list, or "ping", and get "ack", "pong" or "error" back.
//
// # Security
//
// When api.auth.token_secret is set, every /api/v1 route except /health
// requires an "api" scoped bearer token. The WebSocket stream accepts the
// same token in the token query parameter.
//
// # Graceful Degradation
//
// Lights and journal are optional. Without them their routes answer 503.
package api
