package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
)

// Option configures a Transport.
type Option func(*Transport) error

// WithHTTPClient sets a custom HTTP client. Its Timeout should be zero or
// longer than the long-poll timeout plus grace.
func WithHTTPClient(cl *http.Client) Option {
	return func(t *Transport) error {
		if cl == nil {
			return errors.New("http client must not be nil")
		}
		t.client = cl
		return nil
	}
}

// WithAccessToken sends the token as a Bearer Authorization header.
func WithAccessToken(token string) Option {
	return func(t *Transport) error {
		t.accessToken = token
		return nil
	}
}

// WithLogger sets the transport's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) error {
		if l != nil {
			t.logger = l
		}
		return nil
	}
}

// WithClientOptions replaces the client options wholesale.
func WithClientOptions(opts *ClientOptions) Option {
	return func(t *Transport) error {
		if err := ValidateClientOptions(opts); err != nil {
			return err
		}
		o := *opts
		t.options = &o
		return nil
	}
}

// WithCompression toggles Accept-Encoding: gzip.
func WithCompression(enabled bool) Option {
	return func(t *Transport) error {
		t.options.CompressionEnabled = enabled
		return nil
	}
}

// WithMaxResponseSize sets the maximum response body size in bytes.
func WithMaxResponseSize(size int64) Option {
	return func(t *Transport) error {
		if size < 0 {
			return errors.New("max response size must not be negative")
		}
		t.options.MaxResponseSize = size
		return nil
	}
}

// WithMaxDecompressedResponseSize sets the maximum size of a gzip body after
// decompression.
func WithMaxDecompressedResponseSize(size int64) Option {
	return func(t *Transport) error {
		if size < 0 {
			return errors.New("max decompressed response size must not be negative")
		}
		t.options.MaxDecompressedResponseSize = size
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *Transport) error {
		t.options.UserAgent = ua
		return nil
	}
}
