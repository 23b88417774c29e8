package network

import (
	"net"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// UDPNetwork implements Network over a real UDP socket.
type UDPNetwork struct {
	conn *net.UDPConn
}

// ListenUDP binds a UDP socket at bindAddress (host:port, or ":port" for
// all interfaces) and returns a Network backed by it.
func ListenUDP(bindAddress string) (*UDPNetwork, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddress)
	if err != nil {
		return nil, qerrors.NewProtocolError("network.ListenUDP", qerrors.ErrIoFailure)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, qerrors.NewProtocolError("network.ListenUDP", qerrors.ErrIoFailure)
	}

	return &UDPNetwork{conn: conn}, nil
}

// Send writes data to addr as a single UDP datagram.
func (n *UDPNetwork) Send(addr net.Addr, data []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return qerrors.NewProtocolError("network.Send", qerrors.ErrMalformedPacket)
	}
	_, err := n.conn.WriteToUDP(data, udpAddr)
	if err != nil {
		return qerrors.NewProtocolError("network.Send", qerrors.ErrIoFailure)
	}
	return nil
}

// Receive reads the next UDP datagram, up to MaxDatagramSize bytes.
func (n *UDPNetwork) Receive() (net.Addr, []byte, error) {
	buf := make([]byte, constants.MaxDatagramSize)
	size, addr, err := n.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, qerrors.NewProtocolError("network.Receive", qerrors.ErrIoFailure)
	}
	return addr, buf[:size], nil
}

// LocalAddr returns the bound local address.
func (n *UDPNetwork) LocalAddr() net.Addr {
	return n.conn.LocalAddr()
}

// Close closes the underlying UDP socket.
func (n *UDPNetwork) Close() error {
	return n.conn.Close()
}
