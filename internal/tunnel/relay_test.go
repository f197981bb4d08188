package tunnel

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestRelayTunnel_DirectCopiesBothDirections(t *testing.T) {
	clientA, clientB := net.Pipe()
	upstreamA, upstreamB := net.Pipe()

	go RelayTunnel(clientB, upstreamB, domain.SegmentationPolicy{Mode: domain.ModeDirect}, time.Second, nil)

	go func() {
		_, _ = clientA.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	n, err := io.ReadFull(upstreamA, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	go func() {
		_, _ = upstreamA.Write([]byte("pong"))
	}()
	n, err = io.ReadFull(clientA, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	clientA.Close()
	upstreamA.Close()
}

func TestSendSliced_FixedChunks(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	policy := domain.SegmentationPolicy{Strategy: domain.StrategyFixed, ChunkSize: 3}
	data := []byte("abcdefgh")

	go func() {
		_ = sendSliced(client, data, policy, 0)
	}()

	received := make([]byte, 0, len(data))
	buf := make([]byte, 3)
	for len(received) < len(data) {
		n, err := server.Read(buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}
	assert.Equal(t, data, received)
}

func TestSliceSize_RandomWithinBounds(t *testing.T) {
	policy := domain.SegmentationPolicy{Strategy: domain.StrategyRand, MinChunk: 2, MaxChunk: 5}
	for i := 0; i < 50; i++ {
		size := sliceSize(policy, 100)
		assert.GreaterOrEqual(t, size, 2)
		assert.LessOrEqual(t, size, 5)
	}
}

func TestSliceSize_FixedFallbackWhenChunkSizeUnset(t *testing.T) {
	size := sliceSize(domain.SegmentationPolicy{Strategy: domain.StrategyFixed}, 100)
	assert.Equal(t, directReadChunk, size)
}
