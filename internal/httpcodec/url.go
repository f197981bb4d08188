package httpcodec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nbrennan/segproxy/internal/domain"
)

// AbsoluteURL is the decomposed form of an absolute-form HTTP target
// (http://host[:port]/path?query).
type AbsoluteURL struct {
	Host string
	Port int
	Path string // includes the query string, if any, joined by "?"
}

// SplitAbsoluteHTTPURL decomposes an absolute-form request target. Only
// "http://" is accepted (case-insensitive scheme); anything else fails with
// a ClientProtocolError. The default port is 80; a missing path defaults to
// "/", and the query string (if present) is preserved verbatim.
func SplitAbsoluteHTTPURL(target string) (AbsoluteURL, error) {
	const prefix = "http://"
	if len(target) < len(prefix) || !strings.EqualFold(target[:len(prefix)], prefix) {
		return AbsoluteURL{}, &domain.ClientProtocolError{Reason: fmt.Sprintf("not an absolute http:// URL: %q", target)}
	}
	rest := target[len(prefix):]

	authority := rest
	pathAndQuery := "/"
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		authority = rest[:idx]
		pathAndQuery = rest[idx:]
	}
	if authority == "" {
		return AbsoluteURL{}, &domain.ClientProtocolError{Reason: "missing host in absolute URL"}
	}

	host := authority
	port := 80
	if idx := strings.LastIndexByte(authority, ':'); idx >= 0 {
		host = authority[:idx]
		p, err := strconv.Atoi(authority[idx+1:])
		if err != nil || p < 1 || p > 65535 {
			return AbsoluteURL{}, &domain.ClientProtocolError{Reason: fmt.Sprintf("bad port in absolute URL: %q", authority)}
		}
		port = p
	}
	if host == "" {
		return AbsoluteURL{}, &domain.ClientProtocolError{Reason: "missing host in absolute URL"}
	}

	return AbsoluteURL{Host: host, Port: port, Path: pathAndQuery}, nil
}

// ParseConnectTarget splits a CONNECT target ("host:port") on the last
// colon, so IPv6 literals without brackets still split on their final
// colon the way the spec describes.
func ParseConnectTarget(target string) (host string, port int, err error) {
	idx := strings.LastIndexByte(target, ':')
	if idx < 0 {
		return "", 0, &domain.ClientProtocolError{Reason: fmt.Sprintf("bad CONNECT target: %q", target)}
	}
	host = target[:idx]
	p, perr := strconv.Atoi(target[idx+1:])
	if perr != nil || p < 1 || p > 65535 || host == "" {
		return "", 0, &domain.ClientProtocolError{Reason: fmt.Sprintf("bad CONNECT target: %q", target)}
	}
	return host, p, nil
}
