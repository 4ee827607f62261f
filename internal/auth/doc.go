// Package auth mints and validates the HS256 JWTs used by LightLink Core.
//
// Two kinds of token share one format:
//   - broker tokens, presented as the MQTT password when the broker is
//     configured for JWT authentication, minted fresh for every connection
//     attempt
//   - API tokens, presented as a bearer token to the status API
//
// Tokens carry a scope claim so one cannot stand in for the other.
package auth
