package resolver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/internal/resolver/wiredns"
)

const queryTimeout = 2 * time.Second

// Custom speaks plain DNS directly to a single configured server, querying
// both A and AAAA per resolve. Transport is either "udp" (with TCP fallback
// on truncation or UDP failure) or "tcp" (TCP only).
type Custom struct {
	Server    string // host:port of the DNS server
	Transport string // "udp" or "tcp"
}

func NewCustom(server string, transport string) *Custom {
	return &Custom{Server: server, Transport: transport}
}

func (c *Custom) Resolve(ctx context.Context, host string, _ int) (domain.ResolveResult, error) {
	var addrs []domain.ResolvedAddress
	var minTTL int
	haveTTL := false
	fellBack := false

	for _, qtype := range []uint16{wiredns.TypeA, wiredns.TypeAAAA} {
		answers, fallback, err := c.query(ctx, host, qtype)
		if err != nil {
			return domain.ResolveResult{}, &domain.DNSProtocolError{Host: host, Err: err}
		}
		if fallback {
			fellBack = true
		}
		for _, a := range answers {
			family := domain.FamilyIPv4
			if a.Type == wiredns.TypeAAAA {
				family = domain.FamilyIPv6
			}
			addrs = append(addrs, domain.ResolvedAddress{Family: family, IP: a.IP})
			ttl := int(a.TTL)
			if !haveTTL || ttl < minTTL {
				minTTL = ttl
				haveTTL = true
			}
		}
	}

	if len(addrs) == 0 {
		return domain.ResolveResult{}, &domain.DNSProtocolError{Host: host, Err: fmt.Errorf("no usable A/AAAA answers")}
	}
	if !haveTTL {
		minTTL = 0
	}

	transport := "udp"
	if c.Transport == "tcp" || fellBack {
		transport = "tcp"
	}

	return domain.ResolveResult{
		Addresses:  dedupe(addrs),
		TTLSeconds: minTTL,
		Trace:      domain.TraceInfo{Transport: transport, Fallback: fellBack},
	}, nil
}

// query sends one query for qtype, trying UDP first (unless Transport is
// "tcp"), falling back to TCP on I/O error, timeout, or a truncated response.
func (c *Custom) query(ctx context.Context, host string, qtype uint16) (answers []wiredns.Answer, fellBack bool, err error) {
	id, err := randomID()
	if err != nil {
		return nil, false, err
	}
	msg, err := wiredns.BuildQuery(id, host, qtype)
	if err != nil {
		return nil, false, err
	}

	if c.Transport == "tcp" {
		answers, _, err := c.queryTCP(ctx, msg, id)
		return answers, false, err
	}

	answers, truncated, err := c.queryUDP(ctx, msg, id)
	if err == nil && !truncated {
		return answers, false, nil
	}

	tcpAnswers, _, tcpErr := c.queryTCP(ctx, msg, id)
	if tcpErr != nil {
		if err != nil {
			return nil, true, err
		}
		return nil, true, tcpErr
	}
	return tcpAnswers, true, nil
}

func (c *Custom) queryUDP(ctx context.Context, msg []byte, id uint16) ([]wiredns.Answer, bool, error) {
	conn, err := net.Dial("udp", c.Server)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	deadline := time.Now().Add(queryTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, false, err
	}

	if _, err := conn.Write(msg); err != nil {
		return nil, false, err
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, false, err
	}

	return wiredns.ParseResponse(buf[:n], id)
}

func (c *Custom) queryTCP(ctx context.Context, msg []byte, id uint16) ([]wiredns.Answer, bool, error) {
	dialer := net.Dialer{Timeout: queryTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Server)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(queryTimeout)); err != nil {
		return nil, false, err
	}

	framed := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(framed[:2], uint16(len(msg)))
	copy(framed[2:], msg)
	if _, err := conn.Write(framed); err != nil {
		return nil, false, err
	}

	var lenBuf [2]byte
	if _, err := fullRead(conn, lenBuf[:]); err != nil {
		return nil, false, err
	}
	respLen := binary.BigEndian.Uint16(lenBuf[:])
	resp := make([]byte, respLen)
	if _, err := fullRead(conn, resp); err != nil {
		return nil, false, err
	}

	return wiredns.ParseResponse(resp, id)
}

func fullRead(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func randomID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func dedupe(addrs []domain.ResolvedAddress) []domain.ResolvedAddress {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]domain.ResolvedAddress, 0, len(addrs))
	for _, a := range addrs {
		if _, dup := seen[a.IP]; dup {
			continue
		}
		seen[a.IP] = struct{}{}
		out = append(out, a)
	}
	return out
}
