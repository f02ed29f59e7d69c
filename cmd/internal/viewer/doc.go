// Package viewer renders the message log: as text for the terminal, as JSON over HTTP and as a
// live websocket feed for local browser or tool clients.
package viewer
