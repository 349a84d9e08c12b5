// Package api provides the transport-neutral service layer and payload
// types shared by the daemon's HTTP server and the CLI. Handlers and
// commands convert store items into these shapes instead of exposing store
// types directly.
package api
