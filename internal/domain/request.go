package domain

// HTTPRequest is a parsed client request line plus headers. Method, Target
// and Version preserve the client's original casing so they can be
// re-forwarded byte-for-byte; Method is compared case-insensitively
// everywhere else in the pipeline.
type HTTPRequest struct {
	Method  string
	Target  string
	Version string

	// Headers maps lowercased header name to original-casing value. Names
	// is the insertion order of first-seen header names, preserved so
	// forwarding reproduces the client's header order.
	Headers map[string]string
	Names   []string
}

// NewHTTPRequest returns an HTTPRequest with its header maps initialised.
func NewHTTPRequest(method, target, version string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		Target:  target,
		Version: version,
		Headers: make(map[string]string),
	}
}

// SetHeader stores a header value keyed by its lowercased name. A repeated
// name overwrites the previous value (last-wins) without duplicating the
// name in Names.
func (r *HTTPRequest) SetHeader(name, value string) {
	key := toLowerASCII(name)
	if _, exists := r.Headers[key]; !exists {
		r.Names = append(r.Names, key)
	}
	r.Headers[key] = value
}

// Header returns the value stored for a lowercased header name.
func (r *HTTPRequest) Header(name string) (string, bool) {
	v, ok := r.Headers[toLowerASCII(name)]
	return v, ok
}

func toLowerASCII(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
