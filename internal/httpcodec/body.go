package httpcodec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/internal/netio"
)

// ReadRequestBody returns the request body bytes exactly as they should be
// forwarded upstream. initial is whatever body bytes were already read past
// the header delimiter (netio.RecvUntil's over-read); r supplies the rest.
//
// Transfer-Encoding: chunked is read and returned as the raw chunk stream
// (size lines, chunk data, and the trailer) unmodified — this is meant for
// byte-for-byte forwarding, not decoded re-assembly. Transfer-Encoding:
// identity is treated as no body encoding. Any other Transfer-Encoding
// value fails with ClientProtocolError ("unsupported").
func ReadRequestBody(r io.Reader, initial []byte, headers map[string]string) ([]byte, error) {
	if te, ok := headers["transfer-encoding"]; ok {
		switch strings.ToLower(strings.TrimSpace(te)) {
		case "chunked":
			if len(initial) != 0 {
				return nil, &domain.ClientProtocolError{Reason: "unsupported: chunked body with pre-read bytes"}
			}
			return readChunkedBody(r)
		case "identity":
			return initial, nil
		default:
			return nil, &domain.ClientProtocolError{Reason: fmt.Sprintf("unsupported transfer-encoding: %q", te)}
		}
	}

	if cl, ok := headers["content-length"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, &domain.ClientProtocolError{Reason: fmt.Sprintf("bad content-length: %q", cl)}
		}
		remaining := n - len(initial)
		if remaining <= 0 {
			if remaining < 0 {
				return initial[:n], nil
			}
			return initial, nil
		}
		return netio.ReadExactFromBuffer(r, initial, n)
	}

	return initial, nil
}

// readChunkedBody reads an RFC 7230 §4.1 chunked stream verbatim: each
// chunk's hex size line (with optional extensions), its CRLF-terminated
// data, the terminating "0" chunk, and the trailer section up to the final
// blank line. The returned bytes are the exact wire bytes received.
func readChunkedBody(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var out []byte

	for {
		sizeLine, err := br.ReadString('\n')
		if err != nil {
			return nil, &domain.ClientProtocolError{Reason: "incomplete chunked body (size line)", Err: err}
		}
		out = append(out, sizeLine...)

		sizeToken := strings.TrimRight(sizeLine, "\r\n")
		if idx := strings.IndexByte(sizeToken, ';'); idx >= 0 {
			sizeToken = sizeToken[:idx]
		}
		sizeToken = strings.TrimSpace(sizeToken)

		size, err := strconv.ParseInt(sizeToken, 16, 64)
		if err != nil || size < 0 {
			return nil, &domain.ClientProtocolError{Reason: fmt.Sprintf("bad chunk size: %q", sizeToken)}
		}

		if size == 0 {
			// Trailer section: zero or more header lines, ending with a
			// blank CRLF line.
			for {
				line, err := br.ReadString('\n')
				if err != nil {
					return nil, &domain.ClientProtocolError{Reason: "incomplete chunked trailer", Err: err}
				}
				out = append(out, line...)
				if line == "\r\n" || line == "\n" {
					break
				}
			}
			return out, nil
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, &domain.ClientProtocolError{Reason: "incomplete chunk data", Err: err}
		}
		out = append(out, data...)

		trailerCRLF := make([]byte, 2)
		if _, err := io.ReadFull(br, trailerCRLF); err != nil {
			return nil, &domain.ClientProtocolError{Reason: "incomplete chunk terminator", Err: err}
		}
		out = append(out, trailerCRLF...)
	}
}
