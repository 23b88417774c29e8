// Package network provides the datagram substrate the transport runs
// over: a real UDP socket for production use, and an in-memory
// fault-injecting network for deterministic tests of loss, duplication,
// reordering, and jitter.
package network

import "net"

// Network is the datagram port the transport is built against. It is
// deliberately minimal: send one datagram to an address, or block for the
// next arrival from anyone. Session demultiplexing, retries, and framing
// all live above this interface.
type Network interface {
	// Send transmits data to addr. Implementations MAY drop or reorder
	// datagrams (the simulated network does, to exercise the reliability
	// engine); a real UDP socket never does so deliberately.
	Send(addr net.Addr, data []byte) error

	// Receive blocks until the next datagram arrives and returns its
	// source address and payload.
	Receive() (net.Addr, []byte, error)

	// LocalAddr returns the address this network is bound to.
	LocalAddr() net.Addr

	// Close releases the underlying socket or channel resources. A
	// blocked Receive returns an error once Close is called.
	Close() error
}
