// Package server implements the relay server: the per-connection login state
// machine, the registry of authenticated sessions and the broadcast engine.
//
// The implementation is organized into specialized files for configuration,
// transports (raw TCP and WebSocket), sessions, the registry, HTTP routes and
// metrics, so each concern can be tested on its own.
package server
