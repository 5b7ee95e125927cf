package server

import "github.com/opd-ai/lanphone/wire"

// Handler serves a connection whose first line has already been read.
// The handler owns conn and must close it.
type Handler interface {
	ServeConn(conn *wire.Conn, first string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(conn *wire.Conn, first string)

// ServeConn calls f(conn, first).
func (f HandlerFunc) ServeConn(conn *wire.Conn, first string) {
	f(conn, first)
}

// Observer receives connection counters. metrics.Metrics implements it.
type Observer interface {
	ConnectionAccepted(listener string)
	ConnectionRefused(listener string)
}
