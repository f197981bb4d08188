package httpcodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHTTPRequest_Basic(t *testing.T) {
	raw := []byte("GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")
	req, err := ParseHTTPRequest(raw)
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "http://example.com/", req.Target)
	assert.Equal(t, "HTTP/1.1", req.Version)

	v, ok := req.Header("host")
	require.True(t, ok)
	assert.Equal(t, "example.com", v)
}

func TestParseHTTPRequest_LowercasesHeaderNames(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nX-Custom-Header: value\r\n\r\n")
	req, err := ParseHTTPRequest(raw)
	require.NoError(t, err)

	v, ok := req.Header("x-custom-header")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestParseHTTPRequest_DuplicateHeaderLastWins(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nX-A: first\r\nX-A: second\r\n\r\n")
	req, err := ParseHTTPRequest(raw)
	require.NoError(t, err)

	v, _ := req.Header("x-a")
	assert.Equal(t, "second", v)
	assert.Equal(t, []string{"x-a"}, req.Names)
}

func TestParseHTTPRequest_NonUTF8BytesDoNotFail(t *testing.T) {
	raw := append([]byte("GET / HTTP/1.1\r\nX-Bin: "), 0xff, 0xfe)
	raw = append(raw, []byte("\r\n\r\n")...)
	_, err := ParseHTTPRequest(raw)
	require.NoError(t, err)
}

func TestParseHTTPRequest_MalformedRequestLine(t *testing.T) {
	_, err := ParseHTTPRequest([]byte("GET /\r\n\r\n"))
	require.Error(t, err)
}

func TestSplitHeadersAndBody_PreservesOverread(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\n\r\nBODYBYTES")
	header, body := SplitHeadersAndBody(raw)
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", string(header))
	assert.Equal(t, "BODYBYTES", string(body))
}

func TestSplitHeadersAndBody_NoDelimiter(t *testing.T) {
	raw := []byte("partial data without delimiter")
	header, body := SplitHeadersAndBody(raw)
	assert.Equal(t, raw, header)
	assert.Empty(t, body)
}

func TestSplitAbsoluteHTTPURL(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantHost   string
		wantPort   int
		wantPath   string
		wantErr    bool
	}{
		{"default port and path", "http://example.com", "example.com", 80, "/", false},
		{"explicit port", "http://example.com:8080/foo", "example.com", 8080, "/foo", false},
		{"query string preserved", "http://example.com/foo?a=1&b=2", "example.com", 80, "/foo?a=1&b=2", false},
		{"case-insensitive scheme", "HTTP://example.com/", "example.com", 80, "/", false},
		{"https rejected", "https://example.com/", "", 0, "", true},
		{"bad port", "http://example.com:notaport/", "", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitAbsoluteHTTPURL(tt.target)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, got.Host)
			assert.Equal(t, tt.wantPort, got.Port)
			assert.Equal(t, tt.wantPath, got.Path)
		})
	}
}

func TestParseConnectTarget(t *testing.T) {
	host, port, err := ParseConnectTarget("example.com:443")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 443, port)

	_, _, err = ParseConnectTarget("no-port-here")
	require.Error(t, err)
}

func TestSendHTTPError(t *testing.T) {
	var buf bytes.Buffer
	err := SendHTTPError(&buf, 403, "Forbidden: test")
	require.NoError(t, err)
	s := buf.String()
	assert.Contains(t, s, "HTTP/1.1 403 Forbidden\r\n")
	assert.Contains(t, s, "Connection: close\r\n")
	assert.Contains(t, s, "Forbidden: test\n")
}
