// Package transport owns the byte stream between the client and the broker.
//
// A Factory opens the stream (plain TCP, TLS, WebSocket, optionally via a
// SOCKS5 proxy). A Conn wraps the stream with single-writer discipline and a
// blocking read loop that frames and decodes packets.
//
// # Security Considerations
//
// InsecureTLS accepts any server certificate. It exists for brokers with
// self-signed certificates on trusted networks and must be selected
// explicitly (insecure_skip_verify in configuration). It provides encryption
// without authentication of the broker, so a man-in-the-middle can read and
// inject traffic.
package transport
