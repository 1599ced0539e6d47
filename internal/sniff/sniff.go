// Package sniff receives and decodes the records the streamer publishes,
// either live from a UDP socket or offline from a packet capture.
package sniff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sonifyv1/posebridge/internal/message"
)

// Packet is one received datagram. Record is nil when Err is set.
type Packet struct {
	At      time.Time
	From    string
	Size    int
	Record  message.Record
	Err     error
	Payload []byte
}

// Stats summarizes a sniffing session
type Stats struct {
	Packets int
	Decoded int
	Errors  int
	ByKind  map[string]int
}

func (s *Stats) add(p Packet) {
	if s.ByKind == nil {
		s.ByKind = make(map[string]int)
	}
	s.Packets++
	if p.Err != nil {
		s.Errors++
		return
	}
	s.Decoded++
	s.ByKind[p.Record.Kind().String()]++
}

func decode(at time.Time, from string, payload []byte) Packet {
	p := Packet{At: at, From: from, Size: len(payload), Payload: payload}
	p.Record, p.Err = message.Decode(payload)
	return p
}

// Listen receives datagrams on addr until ctx is done, calling fn for each
func Listen(ctx context.Context, addr string, fn func(Packet)) (Stats, error) {
	var stats Stats

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return stats, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		// Unblocks ReadFrom
		conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, 65535)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return stats, err
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		p := decode(time.Now(), from.String(), payload)
		stats.add(p)
		fn(p)
	}
}

// ReplayFile decodes every UDP payload sent to port in a pcap file
func ReplayFile(path string, port int, fn func(Packet)) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()

	return Replay(f, port, fn)
}

// Replay decodes every UDP payload sent to port in a pcap stream
func Replay(r io.Reader, port int, fn func(Packet)) (Stats, error) {
	var stats Stats

	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("not a pcap capture: %w", err)
	}

	src := gopacket.NewPacketSource(pr, pr.LinkType())
	for {
		pkt, err := src.NextPacket()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read capture: %w", err)
		}

		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if int(udp.DstPort) != port {
			continue
		}

		from := strconv.Itoa(int(udp.SrcPort))
		if nl := pkt.NetworkLayer(); nl != nil {
			from = net.JoinHostPort(nl.NetworkFlow().Src().String(), from)
		}

		p := decode(pkt.Metadata().Timestamp, from, udp.Payload)
		stats.add(p)
		fn(p)
	}
}
