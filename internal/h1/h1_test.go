package h1

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbohttp/internal/headers"
)

func TestWriteRequestAddsContentLength(t *testing.T) {
	var buf bytes.Buffer
	h := headers.New()
	h.Add("Host", "example.com")
	err := WriteRequest(&buf, "POST", "/x", h, []byte("hello"))
	require.NoError(t, err)
	s := buf.String()
	assert.Contains(t, s, "POST /x HTTP/1.1\r\n")
	assert.Contains(t, s, "Content-Length: 5\r\n")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("hello")))
}

func TestReadResponseStatusLineNonStandardCode(t *testing.T) {
	raw := "HTTP/1.1 425 Too Early\r\nContent-Length: 0\r\n\r\n"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "GET")
	require.NoError(t, err)
	assert.Equal(t, 425, resp.StatusCode)
}

func TestReadResponseSkipsInterim1xx(t *testing.T) {
	raw := "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "GET")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []byte("ok"), resp.Body)
}

func TestReadResponse101IsNotInterim(t *testing.T) {
	raw := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "GET")
	require.NoError(t, err)
	assert.Equal(t, 101, resp.StatusCode)
	assert.Nil(t, resp.Body)
}

func TestReadResponseChunkedWithTrailer(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n5\r\nworld\r\n0\r\nX-T: 1\r\n\r\n"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "GET")
	require.NoError(t, err)
	assert.Equal(t, []byte("helloworld"), resp.Body)
	assert.True(t, resp.KeepAlive)
}

func TestReadResponseConflictingContentLengthFails(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello"
	r := bufio.NewReader(strReader(raw))
	_, err := ReadResponse(r, "GET")
	require.Error(t, err)
}

func TestReadResponseHeadHasNoBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "HEAD")
	require.NoError(t, err)
	assert.Nil(t, resp.Body)
}

func TestReadResponseUnsupportedTransferEncoding(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\n\r\n"
	r := bufio.NewReader(strReader(raw))
	_, err := ReadResponse(r, "GET")
	require.Error(t, err)
	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "UnsupportedTransferEncoding", ce.Kind)
}

func TestReadResponseConnectionCloseDowngradesKeepAlive(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "GET")
	require.NoError(t, err)
	assert.False(t, resp.KeepAlive)
}

func TestReadResponseHTTP10DefaultsKeepAliveOff(t *testing.T) {
	raw := "HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nok"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "GET")
	require.NoError(t, err)
	assert.False(t, resp.KeepAlive)
}

func TestReadResponseHTTP10KeepAliveTokenOverridesDefault(t *testing.T) {
	raw := "HTTP/1.0 200 OK\r\nConnection: keep-alive\r\nContent-Length: 2\r\n\r\nok"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "GET")
	require.NoError(t, err)
	assert.True(t, resp.KeepAlive)
}

func TestReadResponseHTTP11DefaultsKeepAliveOn(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	r := bufio.NewReader(strReader(raw))
	resp, err := ReadResponse(r, "GET")
	require.NoError(t, err)
	assert.True(t, resp.KeepAlive)
}

func strReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}
