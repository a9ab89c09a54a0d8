// Package transport sends frames as fire-and-forget UDP datagrams to a
// destination that may change while streaming.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/sdrstream/pkg/frame"
)

// DefaultPort is the UDP port receivers listen on by default.
const DefaultPort = 25344

// ErrSend wraps a failed datagram write. The frame is dropped, not retried.
var ErrSend = errors.New("udp send failed")

// ParseDestination validates an IP string and port.
func ParseDestination(ip string, port int) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid destination IP %q: %w", ip, err)
	}
	if port <= 0 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("invalid destination port %d", port)
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}

// StreamConfig is the destination and enabled flag shared between the
// control path (writer) and the capture path (reader). The destination is
// published as one immutable value so an IP from one update is never paired
// with a port from another.
type StreamConfig struct {
	dst     atomic.Pointer[netip.AddrPort]
	enabled atomic.Bool
}

func NewStreamConfig(dst netip.AddrPort, enabled bool) *StreamConfig {
	c := &StreamConfig{}
	c.SetDestination(dst)
	c.enabled.Store(enabled)
	return c
}

func (c *StreamConfig) Destination() netip.AddrPort {
	if p := c.dst.Load(); p != nil {
		return *p
	}
	return netip.AddrPort{}
}

func (c *StreamConfig) SetDestination(dst netip.AddrPort) {
	c.dst.Store(&dst)
}

// WithIP returns the current destination with its address replaced.
func (c *StreamConfig) WithIP(ip netip.Addr) netip.AddrPort {
	return netip.AddrPortFrom(ip.Unmap(), c.Destination().Port())
}

// WithPort returns the current destination with its port replaced.
func (c *StreamConfig) WithPort(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(c.Destination().Addr(), port)
}

func (c *StreamConfig) Enabled() bool { return c.enabled.Load() }

// Toggle flips the enabled flag and returns the new value.
func (c *StreamConfig) Toggle() bool {
	for {
		old := c.enabled.Load()
		if c.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// UDP writes datagrams from one unconnected socket so the destination can
// be re-read for every send.
type UDP struct {
	conn *net.UDPConn
	cfg  *StreamConfig

	sent      atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64
}

// Stats are cumulative send counters.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Discarded uint64 `json:"discarded"`
	Failed    uint64 `json:"failed"`
}

// NewUDP opens a sending socket bound to an ephemeral port.
func NewUDP(cfg *StreamConfig) (*UDP, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	return &UDP{conn: conn, cfg: cfg}, nil
}

// Send transmits b to the current destination. While streaming is
// disabled the datagram is discarded and Send returns nil.
func (u *UDP) Send(b []byte) error {
	if !u.cfg.Enabled() {
		u.discarded.Add(1)
		return nil
	}
	dst := u.cfg.Destination()
	if !dst.IsValid() {
		u.failed.Add(1)
		return fmt.Errorf("%w: no destination", ErrSend)
	}
	if _, err := u.conn.WriteToUDPAddrPort(b, dst); err != nil {
		u.failed.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrSend, dst, err)
	}
	u.sent.Add(1)
	return nil
}

func (u *UDP) Stats() Stats {
	return Stats{
		Sent:      u.sent.Load(),
		Discarded: u.discarded.Load(),
		Failed:    u.failed.Load(),
	}
}

func (u *UDP) Close() error {
	return u.conn.Close()
}

// WriteFrame sends f.Data.
func (u *UDP) WriteFrame(f *frame.Frame) error {
	return u.Send(f.Data)
}
