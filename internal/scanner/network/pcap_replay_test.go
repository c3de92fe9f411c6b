package network

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedDatagram struct {
	dstPort uint16
	payload []byte
	at      time.Time
}

func writeTestPCAP(t *testing.T, datagrams []capturedDatagram) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 0, 10),
			DstIP:    net.IPv4(192, 168, 0, 50),
		}
		udp := &layers.UDP{SrcPort: 2000, DstPort: layers.UDPPort(d.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.payload)))

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: d.at, CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestPCAPReplay_FiltersByPort(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	path := writeTestPCAP(t, []capturedDatagram{
		{dstPort: 55115, payload: []byte("frame-1"), at: t0},
		{dstPort: 55116, payload: []byte("reply"), at: t0.Add(time.Millisecond)},
		{dstPort: 55115, payload: []byte("frame-2"), at: t0.Add(2 * time.Millisecond)},
	})

	replay, err := NewPCAPReplay(PCAPReplayConfig{Path: path, UDPPort: 55115})
	require.NoError(t, err)
	defer replay.Close()

	var r recorder
	require.NoError(t, replay.StartAsyncReceiving(r.handlers()))

	select {
	case <-replay.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not finish")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.data, 2)
	assert.Equal(t, "frame-1", string(r.data[0]))
	assert.Equal(t, "frame-2", string(r.data[1]))
	assert.Empty(t, r.errs)
	assert.Equal(t, uint64(2), replay.Stats().Snapshot().PacketsReceived)
}

func TestPCAPReplay_Paced(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	path := writeTestPCAP(t, []capturedDatagram{
		{dstPort: 1, payload: []byte{1}, at: t0},
		{dstPort: 1, payload: []byte{2}, at: t0.Add(40 * time.Millisecond)},
	})

	replay, err := NewPCAPReplay(PCAPReplayConfig{Path: path, SpeedMultiplier: 2})
	require.NoError(t, err)
	defer replay.Close()

	var r recorder
	start := time.Now()
	require.NoError(t, replay.StartAsyncReceiving(r.handlers()))
	<-replay.Done()

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	n, _, _ := r.snapshot()
	assert.Equal(t, 2, n)
}

func TestPCAPReplay_ReadOnlyAndClose(t *testing.T) {
	path := writeTestPCAP(t, nil)
	replay, err := NewPCAPReplay(PCAPReplayConfig{Path: path})
	require.NoError(t, err)

	assert.True(t, errors.Is(replay.Write(context.Background(), []byte{1}), ErrReadOnly))
	replay.AsyncSend([]byte{1})

	require.NoError(t, replay.Close())
	<-replay.Done()
	assert.NoError(t, replay.Close())
	assert.ErrorIs(t, replay.StartAsyncReceiving(ReceiveHandlers{}), ErrClosed)
}

func TestNewPCAPReplay_Errors(t *testing.T) {
	_, err := NewPCAPReplay(PCAPReplayConfig{Path: filepath.Join(t.TempDir(), "missing.pcap")})
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(junk, []byte("not a capture"), 0o644))
	_, err = NewPCAPReplay(PCAPReplayConfig{Path: junk})
	assert.Error(t, err)
}
