// Package httpcodec parses client request lines and headers, splits
// absolute-form URLs, reads request bodies (identity/content-length/
// chunked), and formats the proxy's own inline error responses.
//
// Header bytes are decoded as ISO-8859-1 (a 1:1 byte-to-rune mapping) so a
// non-UTF-8 byte never fails parsing; this mirrors how real HTTP/1.1 clients
// are tolerated in the wild.
package httpcodec

import (
	"fmt"
	"strings"

	"github.com/nbrennan/segproxy/internal/domain"
)

const crlf = "\r\n"
const crlfcrlf = "\r\n\r\n"

// SplitHeadersAndBody returns the header section (including the trailing
// CRLFCRLF) and whatever bytes followed it. If raw contains no CRLFCRLF,
// the whole input is returned as the header section with an empty body.
func SplitHeadersAndBody(raw []byte) (header, body []byte) {
	idx := indexOf(raw, []byte(crlfcrlf))
	if idx < 0 {
		return raw, nil
	}
	end := idx + len(crlfcrlf)
	return raw[:end], raw[end:]
}

func indexOf(haystack, needle []byte) int {
	n := len(needle)
	if n == 0 {
		return 0
	}
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == string(needle) {
			return i
		}
	}
	return -1
}

// decodeLatin1 maps bytes 1:1 onto runes, the ISO-8859-1 decoding the HTTP
// codec uses so arbitrary client bytes never fail to parse.
func decodeLatin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// ParseHTTPRequest parses a header section (request line + header lines,
// CRLF-separated) into an HTTPRequest. Header names are lowercased; values
// are trimmed of surrounding whitespace. A repeated header name overwrites
// the earlier value (last-wins).
func ParseHTTPRequest(headerBytes []byte) (*domain.HTTPRequest, error) {
	text := decodeLatin1(headerBytes)
	text = strings.TrimSuffix(text, crlfcrlf)
	text = strings.TrimSuffix(text, crlf+crlf)

	lines := strings.Split(text, crlf)
	if len(lines) == 0 || lines[0] == "" {
		return nil, &domain.ClientProtocolError{Reason: "empty request"}
	}

	tokens := strings.Fields(lines[0])
	if len(tokens) != 3 {
		return nil, &domain.ClientProtocolError{Reason: fmt.Sprintf("malformed request line: %q", lines[0])}
	}

	req := domain.NewHTTPRequest(tokens[0], tokens[1], tokens[2])

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		if name == "" {
			continue
		}
		req.SetHeader(name, value)
	}

	return req, nil
}
