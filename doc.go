// Package wsengine is a WebSocket (RFC 6455) frame engine with
// permessage-deflate (RFC 7692) support.
//
// The core is transport agnostic. A Decoder turns inbound bytes into frames
// and keeps its progress between calls, so input may be split anywhere. An
// Encoder turns application writes into frames, one frame per output region
// supplied by the caller. Both carry their own compression context, built
// from the extension parameters agreed by NegotiateServer / NegotiateClient.
// An Engine bundles the two for one connection and one Role.
//
// On top of that, Upgrader and Dialer perform the opening handshake over
// net/http and return a Conn that drives an Engine over a net.Conn:
//
//   - Automatic ping/pong and close frame handling
//   - Safe concurrent writes, with control frames allowed between fragments
//   - Middlewares & connect/disconnect hooks
//   - Per connection rate limiting of inbound messages
//   - Context support for cancellation
//
// Settings hold the limits and compression preferences and can be loaded
// from YAML with LoadSettings.
package wsengine
