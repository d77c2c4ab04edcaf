// Package panel serves the read-only monitor page.
//
// The page is embedded into the binary with go:embed. It opens the API's
// websocket, which marks an observer as attached, and renders the latest
// throughput snapshot for every device as it arrives. It never sends
// anything but pings, so it cannot change routing.
//
// For development the assets can be served from a directory instead, so
// edits show up without a rebuild.
package panel
