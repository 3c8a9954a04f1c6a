// Package wsconn carries relay connections over WebSocket.
//
// Handler classifies the upgrade request from its query string, upgrades it
// and hands the resulting Conn to the relay for the lifetime of the
// connection. Conn buffers outbound frames in a bounded queue drained by a
// single writer goroutine, so Send never blocks the caller.
package wsconn
