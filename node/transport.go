package node

import (
	"context"
	"fmt"
	"net"
)

// maxDatagramSize bounds a single inbound read, matching the wire layer's
// CheckSize ceiling for an encoded envelope.
const maxDatagramSize = 16 * 1024

// udpTransport implements rpc.Transport over a bound net.PacketConn, and
// also drives the inbound read loop that feeds datagrams to the engine and
// dispatcher.
type udpTransport struct {
	conn net.PacketConn
}

func listenUDP(host string, port int) (*udpTransport, error) {
	conn, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("node: listen udp %s:%d: %w", host, port, err)
	}
	return &udpTransport{conn: conn}, nil
}

// Send writes frame to addr. UDP writes do not block on the peer, so ctx is
// only consulted for an already-done check.
func (u *udpTransport) Send(ctx context.Context, addr string, frame []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("node: resolve %s: %w", addr, err)
	}
	_, err = u.conn.WriteTo(frame, raddr)
	return err
}

func (u *udpTransport) close() error {
	return u.conn.Close()
}

func (u *udpTransport) localAddr() net.Addr {
	return u.conn.LocalAddr()
}

// readLoop reads datagrams until the socket is closed, handing each one to
// handle. It returns when the underlying conn.ReadFrom fails, which is how
// Stop() unwinds it (by closing the socket).
func (u *udpTransport) readLoop(handle func(remoteAddr string, data []byte)) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		handle(addr.String(), frame)
	}
}
