package httptransport

import (
	"errors"
	"fmt"
)

// SyncPath is the client-server API endpoint for long-poll sync.
const SyncPath = "/_matrix/client/v3/sync"

const (
	defaultMaxResponseSize             = 64 * 1024 * 1024  // 64MB
	defaultMaxDecompressedResponseSize = 256 * 1024 * 1024 // 256MB
	defaultMaxErrorBodySize            = 64 * 1024         // 64KB
)

// ClientOptions configures the HTTP transport client behavior
type ClientOptions struct {
	// CompressionEnabled sends Accept-Encoding: gzip on sync requests.
	CompressionEnabled bool

	// DisableAutoDecompression disables Go's automatic response decompression
	// When true, the client can enforce both compressed and decompressed size limits
	// When false (default), Go auto-decompresses responses transparently
	DisableAutoDecompression bool

	// MaxResponseSize is the maximum allowed size of response bodies in bytes (compressed)
	// If 0, defaults to 64MB
	MaxResponseSize int64

	// MaxDecompressedResponseSize is the maximum allowed size of decompressed response bodies in bytes
	// If 0, defaults to 256MB
	MaxDecompressedResponseSize int64

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultClientOptions returns the default client options
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled:          true,
		MaxResponseSize:             defaultMaxResponseSize,
		MaxDecompressedResponseSize: defaultMaxDecompressedResponseSize,
	}
}

// ValidateClientOptions checks option values for consistency.
func ValidateClientOptions(opts *ClientOptions) error {
	if opts == nil {
		return errors.New("client options must not be nil")
	}
	if opts.MaxResponseSize < 0 {
		return fmt.Errorf("MaxResponseSize cannot be negative, got %d", opts.MaxResponseSize)
	}
	if opts.MaxDecompressedResponseSize < 0 {
		return fmt.Errorf("MaxDecompressedResponseSize cannot be negative, got %d", opts.MaxDecompressedResponseSize)
	}
	if opts.MaxResponseSize > 0 && opts.MaxDecompressedResponseSize > 0 &&
		opts.MaxDecompressedResponseSize < opts.MaxResponseSize {
		return fmt.Errorf("MaxDecompressedResponseSize (%d) must be at least MaxResponseSize (%d)",
			opts.MaxDecompressedResponseSize, opts.MaxResponseSize)
	}
	return nil
}
