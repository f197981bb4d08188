package netio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrennan/segproxy/internal/domain"
)

func TestRecvUntil_FindsMarkerAndPreservesOverread(t *testing.T) {
	r := strings.NewReader("GET / HTTP/1.1\r\nHost: x\r\n\r\nOVERREAD-BODY")

	got, err := RecvUntil(r, []byte("\r\n\r\n"), DefaultMaxHeaderSize)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(got, []byte("OVERREAD-BODY")))
	assert.Contains(t, string(got), "\r\n\r\n")
}

func TestRecvUntil_NoMarkerReturnsAllOnEOF(t *testing.T) {
	r := strings.NewReader("no marker here")
	got, err := RecvUntil(r, []byte("\r\n\r\n"), DefaultMaxHeaderSize)
	require.NoError(t, err)
	assert.Equal(t, "no marker here", string(got))
}

func TestRecvUntil_TooLargeFails(t *testing.T) {
	r := strings.NewReader(strings.Repeat("a", 100))
	_, err := RecvUntil(r, []byte("\r\n\r\n"), 10)
	require.Error(t, err)
	var cpe *domain.ClientProtocolError
	assert.ErrorAs(t, err, &cpe)
}

func TestReadExactFromBuffer_DrainsBufferFirst(t *testing.T) {
	buf := []byte("abc")
	r := strings.NewReader("defgh")

	got, err := ReadExactFromBuffer(r, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(got))
}

func TestReadExactFromBuffer_BufferAloneSatisfiesRequest(t *testing.T) {
	buf := []byte("abcdef")
	r := strings.NewReader("")

	got, err := ReadExactFromBuffer(r, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestReadExactFromBuffer_ShortEOFFails(t *testing.T) {
	buf := []byte("ab")
	r := strings.NewReader("c")

	_, err := ReadExactFromBuffer(r, buf, 10)
	require.Error(t, err)
	var cpe *domain.ClientProtocolError
	assert.ErrorAs(t, err, &cpe)
}
