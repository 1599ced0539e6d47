package publish

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sonifyv1/posebridge/internal/message"
	"github.com/sonifyv1/posebridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	writes [][]byte
	err    error
	closed int
}

func (f *fakeConn) Write(b []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeConn) Close() error {
	f.closed++
	return nil
}

func handsRecord() *message.HandsRecord {
	return &message.HandsRecord{
		DetectionType: "hands",
		Timestamp:     1.5,
		Hands:         []message.Hand{{HandID: 0, Handedness: "Left", Confidence: 1, Landmarks: [][3]float64{{1, 2, 3}}}},
	}
}

func TestPublishLoopback(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	port := listener.LocalAddr().(*net.UDPAddr).Port
	pub, err := Dial("127.0.0.1", port)
	require.NoError(t, err)
	defer pub.Close()

	n, err := pub.Publish(handsRecord())
	require.NoError(t, err)

	buf := make([]byte, MaxDatagram)
	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
	got, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)

	assert.Equal(t, n, got)
	assert.Equal(t, `{"detection_type":"hands","timestamp":1.5,"hands":[{"hand_id":0,"handedness":"Left","confidence":1,"landmarks":[[1,2,3]]}]}`, string(buf[:got]))

	rec, err := message.Decode(buf[:got])
	require.NoError(t, err)
	assert.Equal(t, types.KindHands, rec.Kind())
}

func TestPublishSendError(t *testing.T) {
	conn := &fakeConn{err: errors.New("connection refused")}
	pub := NewUDPPublisher(conn, "localhost:8888")

	_, err := pub.Publish(handsRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "localhost:8888")
}

func TestPublishRejectsOversizedRecord(t *testing.T) {
	conn := &fakeConn{}
	pub := NewUDPPublisher(conn, "localhost:8888")

	rec := &message.SegmentationRecord{
		DetectionType: "segmentation",
		Mask:          message.Mask{Width: 32, Height: 32, Data: make([]float32, 40000)},
	}
	for i := range rec.Mask.Data {
		rec.Mask.Data[i] = 0.123456
	}

	_, err := pub.Publish(rec)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, conn.writes)
}

func TestCloseOnce(t *testing.T) {
	conn := &fakeConn{}
	pub := NewUDPPublisher(conn, "localhost:8080")

	assert.NoError(t, pub.Close())
	assert.NoError(t, pub.Close())
	assert.Equal(t, 1, conn.closed)
}

func TestDialRejectsBadPort(t *testing.T) {
	_, err := Dial("localhost", 0)
	assert.Error(t, err)
	_, err = Dial("localhost", 70000)
	assert.Error(t, err)
}
