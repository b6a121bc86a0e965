// Package timeouts holds fixed durations shared across foresightd components.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the server waits for in-flight requests during
// graceful shutdown when no value is configured.
const Shutdown = 10 * time.Second

// WSHandshake caps the websocket upgrade.
const WSHandshake = 10 * time.Second

// ClientRetry is how often a disconnected client is expected to reconnect.
// The server never reconnects on its own.
const ClientRetry = 5 * time.Second

// QueueStop bounds how long shutdown waits for admitted update groups.
const QueueStop = 5 * time.Second
