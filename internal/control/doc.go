// Package control implements the host side of the instrumentation control
// channel: demultiplexing device events, the connection handshake and the
// single in-flight command/result exchange.
//
// A Client owns one Shared cell and one dispatch goroutine. Events arrive
// from the Transport's reader goroutine, pass through a bounded queue and
// are handled by the Demux one at a time. The Handshaker and Channel run on
// the caller's goroutine and observe the cell with fixed-interval polls.
package control
