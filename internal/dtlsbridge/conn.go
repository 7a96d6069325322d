package dtlsbridge

import (
	"net"
	"time"

	"github.com/pion/transport/v3/packetio"
)

// inboundLimit bounds the handshake datagrams queued for one peer.
const inboundLimit = 256 * 1024

// packetConn presents one peer's slice of the shared media socket to the DTLS
// engine: reads come from datagrams fed in by the receive loop, writes go out
// through send.
type packetConn struct {
	in     *packetio.Buffer
	local  net.Addr
	remote net.Addr
	send   SendFunc
}

func newPacketConn(local, remote net.Addr, send SendFunc) *packetConn {
	in := packetio.NewBuffer()
	in.SetLimitSize(inboundLimit)
	return &packetConn{in: in, local: local, remote: remote, send: send}
}

func (c *packetConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := c.in.Read(p)
	return n, c.remote, err
}

func (c *packetConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if err := c.send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *packetConn) Close() error                       { return c.in.Close() }
func (c *packetConn) LocalAddr() net.Addr                { return c.local }
func (c *packetConn) SetDeadline(t time.Time) error      { return c.in.SetReadDeadline(t) }
func (c *packetConn) SetReadDeadline(t time.Time) error  { return c.in.SetReadDeadline(t) }
func (c *packetConn) SetWriteDeadline(_ time.Time) error { return nil }
