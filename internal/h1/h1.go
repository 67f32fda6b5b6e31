// Package h1 implements the HTTP/1.1 wire codec per RFC 9112 and spec §4.2:
// request serialization and response parsing, including chunked transfer
// encoding, interim 1xx handling, and the size limits the spec pins down.
package h1

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"turbohttp/internal/bufpool"
	"turbohttp/internal/headers"
)

const (
	maxHeaderLineSize = 8 * 1024
	maxHeaderBlock    = 100 * 1024
	maxBodySize       = 100 * 1024 * 1024
	maxInterimCount   = 10
)

// WriteRequest serializes method/uri/header/body into a pooled buffer and
// hands it to w in a single Write. Header writing appends straight to that
// buffer — no intermediate string concatenation, per spec §4.2.
func WriteRequest(w io.Writer, method, requestTarget string, header *headers.Table, body []byte) error {
	lease := bufpool.Acquire()
	defer lease.Release()
	buf := lease.Buffer()

	buf.WriteString(method)
	buf.WriteByte(' ')
	buf.WriteString(requestTarget)
	buf.WriteString(" HTTP/1.1\r\n")

	hasHost := header.Has("Host")
	hasContentLength := header.Has("Content-Length")
	hasTransferEncoding := header.Has("Transfer-Encoding")

	header.Range(func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	})

	if !hasHost {
		return fmt.Errorf("h1: request missing required Host header")
	}
	if len(body) > 0 && !hasContentLength && !hasTransferEncoding {
		buf.WriteString("Content-Length: ")
		buf.WriteString(strconv.Itoa(len(body)))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	if len(body) > 0 {
		buf.Write(body)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Response is the parsed result of ReadResponse.
type Response struct {
	StatusCode int
	Reason     string
	Header     *headers.Table
	Body       []byte
	KeepAlive  bool
}

// ReadResponse parses one HTTP/1.1 response from r, per the policies in
// spec §4.2. requestMethod feeds the body-selection rules for
// HEAD/204/304/101.
func ReadResponse(r *bufio.Reader, requestMethod string) (*Response, error) {
	var (
		statusCode int
		reason     string
		version    string
		header     *headers.Table
	)

	interim := 0
	for {
		line, err := readLine(r, maxHeaderLineSize)
		if err != nil {
			return nil, err
		}
		statusCode, reason, version, err = parseStatusLine(line)
		if err != nil {
			return nil, err
		}

		header, err = readHeaders(r)
		if err != nil {
			return nil, err
		}

		if statusCode >= 100 && statusCode <= 199 && statusCode != 101 {
			interim++
			if interim > maxInterimCount {
				return nil, malformed("too many interim 1xx responses")
			}
			continue
		}
		break
	}

	resp := &Response{StatusCode: statusCode, Reason: reason, Header: header}

	if statusCode == 101 {
		resp.KeepAlive = true
		return resp, nil
	}

	body, keepAlive, err := readBody(r, requestMethod, statusCode, version, header)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	resp.KeepAlive = keepAlive
	return resp, nil
}

func parseStatusLine(line string) (int, string, string, error) {
	// "HTTP/x.y SP code SP [reason]"
	if !strings.HasPrefix(line, "HTTP/") {
		return 0, "", "", malformed("status line missing HTTP version: " + line)
	}
	rest := line[len("HTTP/"):]
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return 0, "", "", malformed("status line missing status code: " + line)
	}
	version := rest[:sp]
	if !isValidVersion(version) {
		return 0, "", "", malformed("unsupported HTTP version: " + version)
	}
	rest = rest[sp+1:]
	codeStr := rest
	reason := ""
	if sp2 := strings.IndexByte(rest, ' '); sp2 >= 0 {
		codeStr = rest[:sp2]
		reason = rest[sp2+1:]
	}
	if len(codeStr) != 3 {
		return 0, "", "", malformed("status code must be 3 digits: " + codeStr)
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 999 {
		return 0, "", "", malformed("invalid status code: " + codeStr)
	}
	return code, reason, version, nil
}

func isValidVersion(v string) bool {
	return v == "1.0" || v == "1.1"
}

func readHeaders(r *bufio.Reader) (*headers.Table, error) {
	h := headers.New()
	total := 0
	contentLengths := make([]string, 0, 1)
	for {
		line, err := readLine(r, maxHeaderLineSize)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		total += len(line)
		if total > maxHeaderBlock {
			return nil, malformed("header block too large")
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, malformed("malformed header line: " + line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		if strings.EqualFold(name, "Content-Length") {
			contentLengths = append(contentLengths, value)
		}
		h.Add(name, value)
	}
	if len(contentLengths) > 1 {
		first := contentLengths[0]
		for _, v := range contentLengths[1:] {
			if v != first {
				return nil, malformed("conflicting Content-Length values")
			}
		}
	}
	return h, nil
}

func readBody(r *bufio.Reader, method string, status int, version string, h *headers.Table) ([]byte, bool, error) {
	keepAlive := defaultKeepAlive(version, h)

	if method == "HEAD" || status == 204 || status == 304 {
		return nil, keepAlive, nil
	}

	te, hasTE := h.Get("Transfer-Encoding")
	if hasTE {
		te = strings.ToLower(strings.TrimSpace(te))
		switch {
		case te == "identity":
			return readByLengthOrEOF(r, h, &keepAlive)
		case strings.HasSuffix(te, "chunked"):
			body, err := readChunked(r)
			if err != nil {
				return nil, false, err
			}
			return body, keepAlive, nil
		default:
			return nil, false, unsupportedTransferEncoding(te)
		}
	}

	return readByLengthOrEOF(r, h, &keepAlive)
}

func readByLengthOrEOF(r *bufio.Reader, h *headers.Table, keepAlive *bool) ([]byte, bool, error) {
	if cl, ok := h.Get("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, false, malformed("invalid Content-Length: " + cl)
		}
		if n > maxBodySize {
			return nil, false, malformed("response body exceeds maximum size")
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, false, err
		}
		return buf, *keepAlive, nil
	}

	// Read to EOF; always downgrades keep-alive, per spec §4.2.
	lease := bufpool.Acquire()
	defer lease.Release()
	n, err := io.CopyN(lease.Buffer(), r, maxBodySize+1)
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	if n > maxBodySize {
		return nil, false, malformed("response body exceeds maximum size")
	}
	out := make([]byte, len(lease.Bytes()))
	copy(out, lease.Bytes())
	*keepAlive = false
	return out, false, nil
}

func readChunked(r *bufio.Reader) ([]byte, error) {
	lease := bufpool.Acquire()
	defer lease.Release()
	buf := lease.Buffer()

	for {
		line, err := readLine(r, maxHeaderLineSize)
		if err != nil {
			return nil, err
		}
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		size, err := strconv.ParseUint(line, 16, 64)
		if err != nil {
			return nil, malformed("invalid chunk size: " + line)
		}
		if buf.Len()+int(size) > maxBodySize {
			return nil, malformed("chunked body exceeds maximum size")
		}
		if size == 0 {
			if _, err := readTrailers(r); err != nil {
				return nil, err
			}
			break
		}
		if _, err := io.CopyN(buf, r, int64(size)); err != nil {
			return nil, err
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(r, crlf); err != nil {
			return nil, err
		}
		if crlf[0] != '\r' || crlf[1] != '\n' {
			return nil, malformed("chunk data not followed by CRLF")
		}
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// readTrailers consumes (and discards) trailer headers after the final
// zero-size chunk, per the decision recorded in SPEC_FULL.md §D.
func readTrailers(r *bufio.Reader) (*headers.Table, error) {
	return readHeaders(r)
}

// defaultKeepAlive applies spec §4.2's version-dependent default: HTTP/1.1
// defaults persistent connections on, HTTP/1.0 defaults them off, each
// overridable by an explicit Connection token.
func defaultKeepAlive(version string, h *headers.Table) bool {
	if h.HasToken("Connection", "close") {
		return false
	}
	if h.HasToken("Connection", "keep-alive") {
		return true
	}
	return version != "1.0"
}

// readLine reads up to the next line terminator, tolerating a bare LF as
// well as CRLF, and enforces maxLen on the raw (un-stripped) line.
func readLine(r *bufio.Reader, maxLen int) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			// fall through; treat trailing partial line as-is below
		} else {
			return "", err
		}
	}
	if len(line) > maxLen {
		return "", malformed("header line exceeds maximum size")
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func malformed(msg string) error {
	return &CodecError{Kind: "MalformedResponse", Message: msg}
}

func unsupportedTransferEncoding(enc string) error {
	return &CodecError{Kind: "UnsupportedTransferEncoding", Message: enc}
}

// CodecError is the h1 package's own error value; pkg/httpclient translates
// it into the typed *httpclient.Error taxonomy at the transport boundary,
// keeping this package free of an upward import on pkg/httpclient.
type CodecError struct {
	Kind    string
	Message string
}

func (e *CodecError) Error() string {
	return e.Kind + ": " + e.Message
}
