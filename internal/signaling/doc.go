// Package signaling serves the WebSocket a browser opens to learn how to reach
// the relay's media socket: short-term ICE credentials, the DTLS certificate
// fingerprint and the host candidates. The relay is ICE-lite and never needs
// the browser's offer; the browser builds its remote description from these
// parameters.
package signaling
