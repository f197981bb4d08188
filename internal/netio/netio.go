// Package netio provides the two delimited-read primitives the HTTP codec
// builds on: reading until a marker appears, and draining an exact byte
// count from a buffer that may already hold over-read data.
package netio

import (
	"bytes"
	"io"

	"github.com/nbrennan/segproxy/internal/domain"
)

// DefaultMaxHeaderSize bounds RecvUntil when the caller doesn't override it.
const DefaultMaxHeaderSize = 65536

// RecvUntil reads from r into a growing buffer until marker appears or EOF,
// returning every byte read (including marker and anything past it). It
// fails with a ClientProtocolError once the buffer would exceed maxSize.
func RecvUntil(r io.Reader, marker []byte, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxHeaderSize
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		if idx := bytes.Index(buf, marker); idx >= 0 {
			return buf, nil
		}
		if len(buf) > maxSize {
			return nil, &domain.ClientProtocolError{Reason: "headers too large"}
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := bytes.Index(buf, marker); idx >= 0 {
				return buf, nil
			}
			if len(buf) > maxSize {
				return nil, &domain.ClientProtocolError{Reason: "headers too large"}
			}
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return nil, err
		}
	}
}

// ReadExactFromBuffer returns exactly n bytes: first draining buf (bytes
// already read past a previous delimiter), then reading the remainder from
// r. It fails with a ClientProtocolError if EOF arrives before n bytes are
// available.
func ReadExactFromBuffer(r io.Reader, buf []byte, n int) ([]byte, error) {
	if n < 0 {
		n = 0
	}
	out := make([]byte, 0, n)

	take := n
	if take > len(buf) {
		take = len(buf)
	}
	out = append(out, buf[:take]...)

	remaining := n - take
	if remaining <= 0 {
		return out, nil
	}

	rest := make([]byte, remaining)
	read, err := io.ReadFull(r, rest)
	out = append(out, rest[:read]...)
	if err != nil {
		return out, &domain.ClientProtocolError{Reason: "incomplete body", Err: err}
	}
	return out, nil
}
