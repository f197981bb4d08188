// Package tunnel opens upstream connections, performs the CONNECT handshake
// against a chained upstream proxy, and relays bytes between client and
// upstream once a tunnel is established.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/internal/resolver"
)

// OpenUpstream resolves host, then dials each returned address in order
// until one connects, setting idle_timeout as the connection's subsequent
// read/write deadline budget. Candidates are tried in resolver order; the
// last I/O error is returned if every candidate fails.
func OpenUpstream(ctx context.Context, host string, port int, connectTimeout, idleTimeout time.Duration, r resolver.Resolver) (net.Conn, error) {
	result, err := r.Resolve(ctx, host, port)
	if err != nil {
		return nil, &domain.UpstreamDNSError{Host: host, Err: err}
	}
	if len(result.Addresses) == 0 {
		return nil, &domain.NoAddressesError{Host: host}
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	var lastErr error
	for _, addr := range result.Addresses {
		target := net.JoinHostPort(addr.IP, fmt.Sprintf("%d", port))
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			lastErr = err
			continue
		}
		if idleTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(idleTimeout))
		}
		return conn, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &domain.UpstreamTimeoutError{Address: host, Stage: "connect", Err: ctxErr}
	}
	if ne, ok := lastErr.(net.Error); ok && ne.Timeout() {
		return nil, &domain.UpstreamTimeoutError{Address: host, Stage: "connect", Err: lastErr}
	}
	return nil, &domain.UpstreamConnectError{Address: host, Err: lastErr}
}
