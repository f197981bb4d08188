package resolver

import (
	"context"
	"net"

	"github.com/nbrennan/segproxy/internal/domain"
)

// systemFixedTTL is applied to every System resolve, since the host stack
// doesn't expose the underlying records' TTLs.
const systemFixedTTL = 60

// System delegates to the host's name-resolution facility (net.Resolver).
type System struct {
	lookup func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NewSystem builds a System resolver backed by net.DefaultResolver.
func NewSystem() *System {
	return &System{lookup: net.DefaultResolver.LookupIPAddr}
}

func (s *System) Resolve(ctx context.Context, host string, _ int) (domain.ResolveResult, error) {
	addrs, err := s.lookup(ctx, host)
	if err != nil {
		return domain.ResolveResult{}, &domain.UpstreamDNSError{Host: host, Err: err}
	}

	seen := make(map[string]struct{}, len(addrs))
	out := make([]domain.ResolvedAddress, 0, len(addrs))
	for _, a := range addrs {
		family := domain.FamilyIPv6
		if a.IP.To4() != nil {
			family = domain.FamilyIPv4
		}
		key := a.IP.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, domain.ResolvedAddress{Family: family, IP: key})
	}

	return domain.ResolveResult{
		Addresses:  out,
		TTLSeconds: systemFixedTTL,
		Trace:      domain.TraceInfo{Transport: "system"},
	}, nil
}
