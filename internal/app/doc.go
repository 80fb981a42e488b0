// Package app wires the client together: both sockets, the chat and
// group chat clients, transcript persistence, the health probe, and the
// optional ops server, with one lifecycle around all of them.
package app
