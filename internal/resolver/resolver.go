// Package resolver implements the pluggable name-resolution capability: a
// System resolver delegating to the host stack, a Custom resolver speaking
// plain DNS directly, and a Caching decorator wrapping either.
package resolver

import (
	"context"

	"github.com/nbrennan/segproxy/internal/domain"
)

// Resolver resolves a host to an ordered set of addresses with a TTL.
// Implementations: System, Custom, Caching (decorator).
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) (domain.ResolveResult, error)
}
