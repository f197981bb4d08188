package domain

// AddressFamily distinguishes the two address families a resolver can
// return.
type AddressFamily int

const (
	FamilyIPv4 AddressFamily = 4
	FamilyIPv6 AddressFamily = 6
)

// ResolvedAddress is one (family, textual address) pair from a resolve.
type ResolvedAddress struct {
	Family AddressFamily
	IP     string
}

// ResolveResult is the ordered, deduplicated address list a Resolver
// returns for one host, plus the TTL to apply if the caller caches it.
type ResolveResult struct {
	Addresses  []ResolvedAddress
	TTLSeconds int

	// Trace carries resolver-internal diagnostics (transport used, UDP to
	// TCP fallback, cache hit) back to the caller for logging, instead of
	// being stashed in a goroutine-local.
	Trace TraceInfo
}

// TraceInfo is plumbed explicitly from resolver to handler/logger rather
// than through thread-local state.
type TraceInfo struct {
	Transport  string // "system", "udp", "tcp", or "cache"
	Fallback   bool   // true when a UDP attempt fell back to TCP
	CacheHit   bool
	CacheStale bool
}
