package httpcodec

import (
	"fmt"
	"io"
	"net/http"
)

// SendHTTPError writes a minimal, self-contained error response: a status
// line, a plain-text content type, a matching Content-Length, Connection:
// close, and the message itself (with a trailing newline).
func SendHTTPError(w io.Writer, status int, message string) error {
	body := message + "\n"
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = "Error"
	}

	head := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, statusText, len(body),
	)

	if _, err := io.WriteString(w, head); err != nil {
		return err
	}
	_, err := io.WriteString(w, body)
	return err
}
