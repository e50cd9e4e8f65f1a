// Package network implements the datagram transport the netcode core is fed
// byte buffers from. The core itself never touches sockets; these types are
// the boundary the cmd entrypoints wire it to.
package network

import (
	"errors"
	"net"
	"os"
	"time"
)

// MaxDatagramSize bounds a single datagram in either direction. Kept under
// a conservative path MTU so no datagram ever fragments.
const MaxDatagramSize = 1280

// UDPListener is the host side of the transport: one socket, many remote
// addresses.
type UDPListener struct {
	conn net.PacketConn
}

// ListenUDP binds the host socket.
func ListenUDP(addr string) (*UDPListener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPListener{conn: conn}, nil
}

// ReadFrom waits up to timeout for one datagram. A timeout returns
// (nil, nil, nil) so the caller's tick loop keeps running.
func (l *UDPListener) ReadFrom(timeout time.Duration) ([]byte, net.Addr, error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, MaxDatagramSize)
	n, addr, err := l.conn.ReadFrom(buf)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// WriteTo sends one datagram to a remote address.
func (l *UDPListener) WriteTo(b []byte, addr net.Addr) error {
	_, err := l.conn.WriteTo(b, addr)
	return err
}

// LocalAddr returns the bound address.
func (l *UDPListener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Close closes the socket.
func (l *UDPListener) Close() error {
	return l.conn.Close()
}

// UDPConn is the client side of the transport: one socket connected to one
// host.
type UDPConn struct {
	conn net.Conn
}

// DialUDP connects the client socket to the host address.
func DialUDP(addr string) (*UDPConn, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPConn{conn: conn}, nil
}

// Send transmits one datagram.
func (c *UDPConn) Send(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// Recv waits up to timeout for one datagram. A timeout returns (nil, nil)
// so the caller's frame loop keeps running.
func (c *UDPConn) Recv(timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, MaxDatagramSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

// Close closes the socket.
func (c *UDPConn) Close() error {
	return c.conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
