//go:build tinygo

package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"inverterzone/gateway/broker"
	"inverterzone/gateway/httpd"

	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
)

const (
	httpPort = uint16(80)

	tcpBufSize      = 2030 // MTU - ethhdr - iphdr - tcphdr
	mqttDialTimeout = 10 * time.Second
	mqttDialRetries = 3
)

// Pre-allocated TCP buffers, one connection per service.
var (
	httpRxBuf [tcpBufSize]byte
	httpTxBuf [tcpBufSize]byte
	mqttRxBuf [tcpBufSize]byte
	mqttTxBuf [tcpBufSize]byte
)

// HTTPListener returns the port-80 listener backed by the radio's stack.
func (r *picoRadio) HTTPListener() httpd.Listener {
	return &lnetoListener{stack: r.cystack.LnetoStack(), log: r.log}
}

// MQTTDialer returns a broker dialer bound to addr.
func (r *picoRadio) MQTTDialer(addr netip.AddrPort) broker.Dialer {
	return &lnetoDialer{stack: r.cystack.LnetoStack(), addr: addr}
}

// lnetoListener serves one connection at a time on the HTTP port. The stack
// owns a single socket per port, so Accept hands out the same conn and
// refuses new work until it is closed.
type lnetoListener struct {
	stack *xnet.StackAsync
	log   *slog.Logger

	conn       tcp.Conn
	configured bool
	listening  bool
	inUse      bool
}

func (l *lnetoListener) Accept() (httpd.Conn, error) {
	if l.inUse {
		return nil, httpd.ErrNoPending
	}
	if !l.configured {
		err := l.conn.Configure(tcp.ConnConfig{
			RxBuf:             httpRxBuf[:],
			TxBuf:             httpTxBuf[:],
			TxPacketQueueSize: 2,
		})
		if err != nil {
			return nil, err
		}
		l.configured = true
	}
	if !l.listening {
		l.conn.Abort()
		if err := l.stack.ListenTCP(&l.conn, httpPort); err != nil {
			return nil, err
		}
		l.listening = true
	}
	state := l.conn.State()
	if state.IsPreestablished() {
		return nil, httpd.ErrNoPending
	}
	if !state.IsSynchronized() {
		// Handshake died; re-arm on the next Accept.
		l.listening = false
		return nil, httpd.ErrNoPending
	}
	l.inUse = true
	l.listening = false
	return &lnetoHTTPConn{l: l}, nil
}

func (l *lnetoListener) Rebind() error {
	l.conn.Abort()
	l.listening = false
	l.inUse = false
	return nil
}

func (l *lnetoListener) Close() error {
	l.conn.Abort()
	l.listening = false
	l.inUse = false
	return nil
}

type lnetoHTTPConn struct {
	l *lnetoListener
}

func (c *lnetoHTTPConn) Read(p []byte) (int, error) {
	conn := &c.l.conn
	n, err := conn.Read(p)
	if n > 0 {
		return n, nil
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return 0, io.EOF
	}
	state := conn.State()
	if state.IsClosed() || state.IsClosing() || !state.RxDataOpen() {
		return 0, io.EOF
	}
	return 0, nil
}

func (c *lnetoHTTPConn) Write(p []byte) (int, error) {
	conn := &c.l.conn
	n, err := conn.Write(p)
	conn.Flush()
	return n, err
}

func (c *lnetoHTTPConn) Close() error {
	conn := &c.l.conn
	conn.Close()
	for i := 0; i < 5 && !conn.State().IsClosed(); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	conn.Abort()
	c.l.inUse = false
	return nil
}

// lnetoDialer dials the broker with the stack's retrying wrapper and frees
// the ARP slot on teardown so the next dial starts clean.
type lnetoDialer struct {
	stack *xnet.StackAsync
	addr  netip.AddrPort

	conn       tcp.Conn
	configured bool
}

func (d *lnetoDialer) Dial() (broker.Stream, error) {
	if !d.configured {
		err := d.conn.Configure(tcp.ConnConfig{
			RxBuf:             mqttRxBuf[:],
			TxBuf:             mqttTxBuf[:],
			TxPacketQueueSize: 3,
		})
		if err != nil {
			return nil, err
		}
		d.configured = true
	}
	d.conn.Abort()

	rstack := d.stack.StackRetrying(5 * time.Millisecond)
	lport := uint16(d.stack.Prand32()>>17) + 1024
	if err := rstack.DoDialTCP(&d.conn, lport, d.addr, mqttDialTimeout, mqttDialRetries); err != nil {
		d.release()
		return nil, err
	}
	return &lnetoStream{d: d}, nil
}

func (d *lnetoDialer) release() {
	d.conn.Abort()
	d.stack.DiscardResolveHardwareAddress6(d.addr.Addr())
}

type lnetoStream struct {
	d *lnetoDialer
}

func (s *lnetoStream) Read(p []byte) (int, error) {
	return s.d.conn.Read(p)
}

func (s *lnetoStream) Write(p []byte) (int, error) {
	n, err := s.d.conn.Write(p)
	s.d.conn.Flush()
	return n, err
}

func (s *lnetoStream) SetReadDeadline(t time.Time) error {
	s.d.conn.SetDeadline(t)
	return nil
}

func (s *lnetoStream) Close() error {
	conn := &s.d.conn
	conn.Close()
	for i := 0; i < 10 && !conn.State().IsClosed(); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	s.d.release()
	return nil
}
