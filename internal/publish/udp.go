// Package publish sends detection records to the downstream application as
// single UDP datagrams. Delivery is best effort: there is no acknowledgment,
// retry, sequencing or fragmentation handling.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/sonifyv1/posebridge/internal/message"
)

// MaxDatagram is the largest UDP payload an IPv4 datagram can carry
const MaxDatagram = 65507

// ErrTooLarge is returned for records that cannot fit in one datagram
var ErrTooLarge = errors.New("record exceeds maximum datagram size")

// Publisher is the sink the frame loop hands records to
type Publisher interface {
	Publish(rec message.Record) (int, error)
	Addr() string
	Close() error
}

// UDPPublisher writes compact JSON records to a fixed destination
type UDPPublisher struct {
	conn io.WriteCloser
	addr string

	closeOnce sync.Once
	closeErr  error
}

// Dial resolves host:port and returns a publisher bound to it. No packets are
// exchanged, so an absent receiver is only noticed, if at all, on send.
func Dial(host string, port int) (*UDPPublisher, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid UDP port %d", port)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket to %s: %w", addr, err)
	}

	return NewUDPPublisher(conn, addr), nil
}

// NewUDPPublisher wraps an already connected datagram writer
func NewUDPPublisher(conn io.WriteCloser, addr string) *UDPPublisher {
	return &UDPPublisher{conn: conn, addr: addr}
}

// Addr returns the destination as host:port
func (p *UDPPublisher) Addr() string {
	return p.addr
}

// Publish serializes rec without whitespace and sends it as one datagram. It
// returns the payload size in bytes.
func (p *UDPPublisher) Publish(rec message.Record) (int, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s record: %w", rec.Kind(), err)
	}

	if len(payload) > MaxDatagram {
		return 0, fmt.Errorf("%s record is %d bytes: %w", rec.Kind(), len(payload), ErrTooLarge)
	}

	if _, err := p.conn.Write(payload); err != nil {
		return 0, fmt.Errorf("send to %s failed: %w", p.addr, err)
	}

	return len(payload), nil
}

// Close releases the socket. Calling it again is a no-op.
func (p *UDPPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}
