package httptransport

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// errDecompressedTooLarge is a sentinel error for decompressed size limit violations
var errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")

// errResponseTooLarge is returned when the raw body exceeds MaxResponseSize.
var errResponseTooLarge = errors.New("response body exceeds maximum size limit")

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
	err      error
	eof      bool
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}
	if r.consumed >= r.limit {
		return 0, r.err
	}

	// Limit read size to prevent exceeding limit
	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)

	if r.consumed >= r.limit && err == nil {
		// Probe one more byte; data beyond the limit is an error.
		var dummy [1]byte
		m, peekErr := r.reader.Read(dummy[:])
		if m > 0 {
			return n, r.err
		}
		if peekErr == io.EOF {
			r.eof = true
		}
	}

	if err == io.EOF {
		r.eof = true
	}
	return n, err
}

// createSafeResponseReader wraps resp.Body so that both the transferred size
// and, for gzip bodies, the decompressed size are bounded.
// Returns the reader, cleanup function, and error
func createSafeResponseReader(resp *http.Response, options *ClientOptions) (io.Reader, func(), error) {
	maxResponseSize := options.MaxResponseSize
	if maxResponseSize == 0 {
		maxResponseSize = defaultMaxResponseSize
	}

	maxDecompressedSize := options.MaxDecompressedResponseSize
	if maxDecompressedSize == 0 {
		maxDecompressedSize = defaultMaxDecompressedResponseSize
	}

	if resp.ContentLength > 0 && resp.ContentLength > maxResponseSize {
		return nil, func() {}, fmt.Errorf("%w: %d bytes (max %d)", errResponseTooLarge, resp.ContentLength, maxResponseSize)
	}

	limited := &maxDecompressedReader{
		reader: resp.Body,
		limit:  maxResponseSize,
		err:    errResponseTooLarge,
	}

	// Only an explicitly gzip-encoded body needs handling here. When Go
	// decompresses transparently the header is removed from the response.
	contentEncoding := strings.TrimSpace(strings.ToLower(resp.Header.Get("Content-Encoding")))
	switch contentEncoding {
	case "", "identity":
		return limited, func() {}, nil
	case "gzip":
	default:
		return nil, func() {}, fmt.Errorf("unsupported content encoding: %s (only gzip is supported)", contentEncoding)
	}

	gzReader, err := gzip.NewReader(limited)
	if err != nil {
		return nil, func() {}, fmt.Errorf("invalid gzip data: %w", err)
	}

	decompressed := &maxDecompressedReader{
		reader: gzReader,
		limit:  maxDecompressedSize,
		err:    errDecompressedTooLarge,
	}

	cleanup := func() {
		_ = gzReader.Close()
	}

	return decompressed, cleanup, nil
}
