package httpds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// FetchFirstBytes retrieves up to n raw bytes from url. It sends a Range
// header and also caps the read client-side, so servers ignoring Range are
// handled. The returned slice length is <= n.
func (c *Client) FetchFirstBytes(ctx context.Context, url string, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("httpds: n must be > 0")
	}

	h := make(http.Header)
	h.Set("Range", fmt.Sprintf("bytes=0-%d", n-1))

	resp, err := c.Get(ctx, url, h)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, int64(n))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Probe describes the head of a remote dataset.
type Probe struct {
	Gzip   bool
	Header string // first line of the decoded content, without the newline
}

// Probe fetches the first n bytes of the source and reports whether
// they are gzip-compressed and what the decoded header line looks like. A
// truncated gzip stream is expected here, so only the bytes decoded before
// the cut are inspected.
func (s *Source) Probe(ctx context.Context, n int) (Probe, error) {
	raw, err := s.client.FetchFirstBytes(ctx, s.url, n)
	if err != nil {
		return Probe{}, err
	}

	var p Probe
	p.Gzip = bytes.HasPrefix(raw, gzipMagic)

	compression := s.compression
	if compression == CompressionGzip && !p.Gzip {
		return p, ErrNotGzip
	}
	rc, err := decodeBody(io.NopCloser(bytes.NewReader(raw)), compression)
	if err != nil {
		return p, err
	}
	defer rc.Close()

	head, _ := io.ReadAll(rc) // io.ErrUnexpectedEOF from the cut gzip stream is fine
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	p.Header = string(bytes.TrimRight(head, "\r"))
	return p, nil
}
