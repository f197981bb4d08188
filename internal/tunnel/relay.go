package tunnel

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/pkg/pool"
)

const directReadChunk = 4096

var bufferPool = pool.NewLitePool(func() *[]byte {
	b := make([]byte, directReadChunk)
	return &b
})

// RelayTunnel relays bytes between client and upstream once a CONNECT (or
// chained upstream CONNECT) has been accepted, applying policy's chunking
// mode to the client-to-upstream direction. It blocks until either side
// closes, an error occurs, or idleTimeout elapses with no activity.
func RelayTunnel(client, upstream net.Conn, policy domain.SegmentationPolicy, idleTimeout time.Duration, log *slog.Logger) {
	switch policy.Mode {
	case domain.ModeSegmentUpstream:
		if policy.Strategy == domain.StrategyNone {
			relayDirect(client, upstream, idleTimeout)
			return
		}
		relaySegmented(client, upstream, policy, idleTimeout, log)
	default:
		relayDirect(client, upstream, idleTimeout)
	}
}

// relayDirect copies both directions concurrently, each using a read
// deadline of idleTimeout so an idle tunnel unwinds on its own; Go's
// runtime-managed netpoller stands in for the spec's manual
// readiness-poll loop.
func relayDirect(client, upstream net.Conn, idleTimeout time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		copyWithIdleTimeout(upstream, client, idleTimeout)
		closeWrite(upstream)
	}()
	go func() {
		defer wg.Done()
		copyWithIdleTimeout(client, upstream, idleTimeout)
		closeWrite(client)
	}()

	wg.Wait()
}

func copyWithIdleTimeout(dst io.Writer, src net.Conn, idleTimeout time.Duration) {
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	for {
		if idleTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(idleTimeout))
		}
		n, err := src.Read(*buf)
		if n > 0 {
			if _, werr := dst.Write((*buf)[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func closeWrite(conn net.Conn) {
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

// relaySegmented reads upstream->client directly on a background goroutine
// managed by an errgroup and slices client->upstream writes per policy on
// the calling goroutine, stopping both directions when either side ends.
// The reader is joined with a 1-second bound and then abandoned, per the
// tunnel's shared-stop-flag cancellation model.
func relaySegmented(client, upstream net.Conn, policy domain.SegmentationPolicy, idleTimeout time.Duration, log *slog.Logger) {
	var stop atomic.Bool
	g, _ := errgroup.WithContext(context.Background())

	g.Go(func() error {
		buf := bufferPool.Get()
		defer bufferPool.Put(buf)

		for !stop.Load() {
			if idleTimeout > 0 {
				_ = upstream.SetReadDeadline(time.Now().Add(idleTimeout))
			}
			n, err := upstream.Read(*buf)
			if n > 0 {
				if _, werr := client.Write((*buf)[:n]); werr != nil {
					return werr
				}
			}
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return nil
			}
		}
		return nil
	})

	readClientAndSlice(client, upstream, policy, idleTimeout, &stop, log)
	stop.Store(true)
	_ = upstream.SetReadDeadline(time.Now().Add(time.Millisecond))

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		if log != nil {
			log.Warn("segmented relay reader did not join within bound, abandoning")
		}
	}
}

// readClientAndSlice reads whatever the client sends and rewrites it into
// policy-sized slices before forwarding upstream, sleeping delay_ms between
// slices.
func readClientAndSlice(client, upstream net.Conn, policy domain.SegmentationPolicy, idleTimeout time.Duration, stop *atomic.Bool, log *slog.Logger) {
	buf := make([]byte, 64*1024)
	delay := time.Duration(policy.DelayMs) * time.Millisecond

	for {
		if idleTimeout > 0 {
			_ = client.SetReadDeadline(time.Now().Add(idleTimeout))
		}
		n, err := client.Read(buf)
		if n > 0 {
			if sendErr := sendSliced(upstream, buf[:n], policy, delay); sendErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
		if stop.Load() {
			return
		}
	}
}

func sendSliced(upstream net.Conn, data []byte, policy domain.SegmentationPolicy, delay time.Duration) error {
	for len(data) > 0 {
		size := sliceSize(policy, len(data))
		if size > len(data) {
			size = len(data)
		}
		if _, err := upstream.Write(data[:size]); err != nil {
			return err
		}
		data = data[size:]
		if len(data) > 0 && delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil
}

func sliceSize(policy domain.SegmentationPolicy, remaining int) int {
	if policy.Strategy == domain.StrategyRand && policy.MinChunk > 0 && policy.MaxChunk >= policy.MinChunk {
		return policy.MinChunk + rand.Intn(policy.MaxChunk-policy.MinChunk+1)
	}
	size := policy.ChunkSize
	if size <= 0 {
		size = directReadChunk
	}
	return size
}
