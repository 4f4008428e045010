// Package httptransport implements the sync transport over the Matrix
// client-server HTTP API.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
	"github.com/c0deZ3R0/go-matrix-sync/logging"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// Transport issues GET /sync requests against a homeserver and returns the
// raw response body. It implements synckit.Transport.
type Transport struct {
	client      *http.Client
	endpoint    *url.URL
	accessToken string
	logger      *slog.Logger
	options     *ClientOptions
}

// newHTTPClient creates a custom HTTP client based on ClientOptions.
// It sets no overall timeout; every request is bounded by its context.
func newHTTPClient(opts *ClientOptions) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()

	// If DisableAutoDecompression is true, disable Go's automatic decompression
	// so we can enforce both compressed and decompressed size limits
	tr.DisableCompression = opts != nil && opts.DisableAutoDecompression

	return &http.Client{Transport: tr}
}

// NewTransport creates a Transport for the homeserver at baseURL, for
// example "https://matrix.example.org".
func NewTransport(baseURL string, opts ...Option) (*Transport, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, fmt.Errorf("invalid homeserver URL: %w", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, fmt.Errorf("homeserver URL must be http or https, got %q", baseURL))
	}
	if u.Host == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, fmt.Errorf("homeserver URL has no host: %q", baseURL))
	}
	u = u.JoinPath(SyncPath)

	t := &Transport{
		endpoint: u,
		logger:   logging.Default().Logger,
		options:  DefaultClientOptions(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, syncErrors.NewValidationError(syncErrors.OpTransport, err)
		}
	}
	if err := ValidateClientOptions(t.options); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, err)
	}
	if t.client == nil {
		t.client = newHTTPClient(t.options)
	}
	t.logger = t.logger.With("component", "transport")
	return t, nil
}

// Endpoint returns the sync URL without query parameters.
func (t *Transport) Endpoint() string {
	return t.endpoint.String()
}

// RequestURL returns the full URL for req.
func (t *Transport) RequestURL(req types.SyncRequest) string {
	u := *t.endpoint
	u.RawQuery = query(req).Encode()
	return u.String()
}

// query encodes only the parameters that carry a value.
func query(req types.SyncRequest) url.Values {
	q := url.Values{}
	if req.Filter != "" {
		q.Set("filter", req.Filter)
	}
	if req.FullState {
		q.Set("full_state", "true")
	}
	if req.SetPresence != "" {
		q.Set("set_presence", string(req.SetPresence))
	}
	if !req.Since.IsZero() {
		q.Set("since", req.Since.String())
	}
	q.Set("timeout", strconv.FormatInt(req.Timeout.Milliseconds(), 10))
	return q
}

// Sync performs one long-poll request. Non-2xx responses become a
// *errors.ProtocolError; network failures are KindTransport, and a
// cancelled ctx yields KindCancelled.
func (t *Transport) Sync(ctx context.Context, req types.SyncRequest) ([]byte, error) {
	target := t.RequestURL(req)
	logger := t.logger.With(slog.String("since", req.Since.String()))
	logger.Debug("Starting sync request",
		slog.Duration("timeout", req.Timeout),
		slog.Bool("full_state", req.FullState))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpTransport, syncErrors.Component("transport"), syncErrors.KindInternal,
			fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if t.accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.accessToken)
	}
	if t.options.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.options.UserAgent)
	}
	if t.options.CompressionEnabled && t.options.DisableAutoDecompression {
		// Go only adds Accept-Encoding itself when it also decompresses.
		httpReq.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, t.requestFailed(ctx, logger, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, defaultMaxErrorBodySize))
		pe := parseProtocolError(resp.StatusCode, resp.Header, body)
		logger.Warn("Sync request returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("errcode", pe.ErrCode),
			slog.Duration("retry_after", pe.RetryAfter))
		return nil, syncErrors.E(syncErrors.OpTransport, syncErrors.Component("transport"), syncErrors.KindProtocol,
			syncErrors.ErrCodeProtocolFailure, pe)
	}

	reader, cleanup, err := createSafeResponseReader(resp, t.options)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpTransport, syncErrors.Component("transport"), syncErrors.KindTransport,
			syncErrors.ErrCodeNetworkFailure, err)
	}
	defer cleanup()

	body, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, errDecompressedTooLarge) || errors.Is(err, errResponseTooLarge) {
			logger.Error("Sync response exceeds size limit", slog.String("error", err.Error()))
		}
		return nil, t.requestFailed(ctx, logger, fmt.Errorf("failed to read response: %w", err))
	}

	logger.Debug("Sync request completed", slog.Int("bytes", len(body)))
	return body, nil
}

func (t *Transport) requestFailed(ctx context.Context, logger *slog.Logger, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		logger.Debug("Sync request cancelled")
		return syncErrors.NewCancelledError(syncErrors.OpTransport, ctx.Err())
	}
	logger.Warn("Sync request failed", slog.String("error", err.Error()))
	return syncErrors.NewNetworkError(syncErrors.OpTransport, err)
}
