package sniff

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handsPayload = `{"detection_type":"hands","timestamp":1.5,"hands":[{"hand_id":0,"handedness":"Left","confidence":0.9,"landmarks":[[1,2,3]]}]}`

func writePacket(t *testing.T, w *pcapgo.Writer, dstPort int, payload string) {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(127, 0, 0, 1),
		DstIP:    net.IPv4(127, 0, 0, 1),
	}
	udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))

	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}
	require.NoError(t, w.WritePacket(ci, data))
}

func TestReplay(t *testing.T) {
	var capture bytes.Buffer
	w := pcapgo.NewWriter(&capture)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	writePacket(t, w, 8888, handsPayload)
	writePacket(t, w, 9999, handsPayload) // other port, ignored
	writePacket(t, w, 8888, `{"detection_type":"segmentation","timestamp":2,"mask":{"width":32,"height":32,"threshold":0.5,"data":[0.1]}}`)
	writePacket(t, w, 8888, `not json`)

	var got []Packet
	stats, err := Replay(&capture, 8888, func(p Packet) { got = append(got, p) })
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Packets)
	assert.Equal(t, 2, stats.Decoded)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, map[string]int{"hands": 1, "segmentation": 1}, stats.ByKind)

	require.Len(t, got, 3)
	assert.Equal(t, "127.0.0.1:50000", got[0].From)
	assert.Equal(t, len(handsPayload), got[0].Size)
	assert.Equal(t, int64(1700000000), got[0].At.Unix())
	assert.Error(t, got[2].Err)
}

func TestReplayRejectsGarbage(t *testing.T) {
	_, err := Replay(bytes.NewBufferString("definitely not a capture file"), 8888, func(Packet) {})
	assert.ErrorContains(t, err, "not a pcap capture")
}

func TestListen(t *testing.T) {
	// Reserve a free port
	probe, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.LocalAddr().String()
	probe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Packet, 4)

	type result struct {
		stats Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		s, err := Listen(ctx, addr, func(p Packet) {
			select {
			case received <- p:
			default:
			}
			cancel()
		})
		done <- result{s, err}
	}()

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// The listener may not be bound yet, so keep sending until it answers
	var p Packet
	deadline := time.After(5 * time.Second)
loop:
	for {
		conn.Write([]byte(handsPayload))
		select {
		case p = <-received:
			break loop
		case <-deadline:
			t.Fatal("no packet received")
		case <-time.After(50 * time.Millisecond):
		}
	}

	require.NoError(t, p.Err)
	assert.Equal(t, "hands", p.Record.Kind().String())

	r := <-done
	require.NoError(t, r.err)
	assert.GreaterOrEqual(t, r.stats.Decoded, 1)
}
