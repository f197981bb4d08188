package httpcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequestBody_ContentLengthSplitAcrossInitialAndReader(t *testing.T) {
	initial := []byte("Wiki")
	rest := strings.NewReader("pedia")
	headers := map[string]string{"content-length": "9"}

	body, err := ReadRequestBody(rest, initial, headers)
	require.NoError(t, err)
	assert.Equal(t, "Wikipedia", string(body))
}

func TestReadRequestBody_ContentLengthFullyInInitial(t *testing.T) {
	initial := []byte("Wikipedia-extra")
	headers := map[string]string{"content-length": "9"}

	body, err := ReadRequestBody(strings.NewReader(""), initial, headers)
	require.NoError(t, err)
	assert.Equal(t, "Wikipedia", string(body))
}

func TestReadRequestBody_BadContentLength(t *testing.T) {
	headers := map[string]string{"content-length": "not-a-number"}
	_, err := ReadRequestBody(strings.NewReader(""), nil, headers)
	require.Error(t, err)
}

func TestReadRequestBody_IdentityReturnsInitialUnchanged(t *testing.T) {
	initial := []byte("passthrough")
	headers := map[string]string{"transfer-encoding": "identity"}

	body, err := ReadRequestBody(strings.NewReader("ignored"), initial, headers)
	require.NoError(t, err)
	assert.Equal(t, "passthrough", string(body))
}

func TestReadRequestBody_UnsupportedTransferEncoding(t *testing.T) {
	headers := map[string]string{"transfer-encoding": "gzip"}
	_, err := ReadRequestBody(strings.NewReader(""), nil, headers)
	require.Error(t, err)
}

func TestReadRequestBody_NoLengthOrEncodingReturnsInitial(t *testing.T) {
	initial := []byte("whatever was overread")
	body, err := ReadRequestBody(strings.NewReader("more bytes never consumed"), initial, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "whatever was overread", string(body))
}

func TestReadChunkedBody_WikipediaExample(t *testing.T) {
	raw := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	headers := map[string]string{"transfer-encoding": "chunked"}

	body, err := ReadRequestBody(strings.NewReader(raw), nil, headers)
	require.NoError(t, err)
	assert.Equal(t, raw, string(body))
}

func TestReadRequestBody_ChunkedRejectsPreReadBytes(t *testing.T) {
	headers := map[string]string{"transfer-encoding": "chunked"}
	_, err := ReadRequestBody(strings.NewReader("4\r\nWiki\r\n0\r\n\r\n"), []byte("x"), headers)
	require.Error(t, err)
}

func TestReadChunkedBody_WithExtensionAndTrailer(t *testing.T) {
	raw := "3;foo=bar\r\nabc\r\n0\r\nX-Trailer: done\r\n\r\n"
	headers := map[string]string{"transfer-encoding": "chunked"}

	body, err := ReadRequestBody(strings.NewReader(raw), nil, headers)
	require.NoError(t, err)
	assert.Equal(t, raw, string(body))
}

func TestReadChunkedBody_IncompleteChunkFails(t *testing.T) {
	headers := map[string]string{"transfer-encoding": "chunked"}
	_, err := ReadRequestBody(strings.NewReader("a\r\nshort"), nil, headers)
	require.Error(t, err)
}

func TestReadChunkedBody_BadSizeTokenFails(t *testing.T) {
	headers := map[string]string{"transfer-encoding": "chunked"}
	_, err := ReadRequestBody(strings.NewReader("zzz\r\n\r\n"), nil, headers)
	require.Error(t, err)
}
