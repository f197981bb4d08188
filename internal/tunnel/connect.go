package tunnel

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
)

const maxConnectResponseBytes = 65536

// PerformUpstreamConnect sends a CONNECT request for targetHost:targetPort
// over an already-open connection to a chained upstream proxy, and succeeds
// only if the response status line's second token parses as exactly 200.
func PerformUpstreamConnect(conn net.Conn, targetHost string, targetPort int, idleTimeout time.Duration) error {
	if idleTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(idleTimeout))
	}

	hostport := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", hostport, hostport)
	if _, err := conn.Write([]byte(req)); err != nil {
		return &domain.UpstreamConnectError{Address: hostport, Err: err}
	}

	statusLine, err := readStatusLine(conn)
	if err != nil {
		return &domain.UpstreamProtocolError{StatusLine: fmt.Sprintf("<unreadable: %v>", err)}
	}

	tokens := strings.Fields(statusLine)
	if len(tokens) < 2 {
		return &domain.UpstreamProtocolError{StatusLine: statusLine}
	}
	code, err := strconv.Atoi(tokens[1])
	if err != nil || code != 200 {
		return &domain.UpstreamProtocolError{StatusLine: statusLine}
	}
	return nil
}

// readStatusLine reads bytes up to CRLFCRLF (bounded by
// maxConnectResponseBytes) and returns just the first line.
func readStatusLine(conn net.Conn) (string, error) {
	reader := bufio.NewReaderSize(conn, 4096)
	var total int
	var lines []string

	for {
		line, err := reader.ReadString('\n')
		total += len(line)
		trimmed := strings.TrimRight(line, "\r\n")
		lines = append(lines, trimmed)

		if err != nil {
			return "", err
		}
		if total > maxConnectResponseBytes {
			return "", fmt.Errorf("upstream CONNECT response too large")
		}
		if trimmed == "" {
			break
		}
	}

	if len(lines) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return lines[0], nil
}
