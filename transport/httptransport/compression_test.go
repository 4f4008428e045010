package httptransport

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxDecompressedReader(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		limit   int64
		wantErr bool
	}{
		{name: "below limit", data: "hello", limit: 10},
		{name: "exactly at limit", data: "0123456789", limit: 10},
		{name: "over limit", data: "0123456789a", limit: 10, wantErr: true},
		{name: "empty", data: "", limit: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &maxDecompressedReader{
				reader: strings.NewReader(tt.data),
				limit:  tt.limit,
				err:    errDecompressedTooLarge,
			}
			got, err := io.ReadAll(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, errDecompressedTooLarge)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.data, string(got))
		})
	}
}

func newResponse(body []byte, encoding string) *http.Response {
	resp := &http.Response{
		Header:        http.Header{},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	if encoding != "" {
		resp.Header.Set("Content-Encoding", encoding)
	}
	return resp
}

func TestCreateSafeResponseReader(t *testing.T) {
	opts := DefaultClientOptions()

	t.Run("plain body", func(t *testing.T) {
		r, cleanup, err := createSafeResponseReader(newResponse([]byte(`{}`), ""), opts)
		require.NoError(t, err)
		defer cleanup()
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(got))
	})

	t.Run("content length over limit", func(t *testing.T) {
		small := &ClientOptions{MaxResponseSize: 4, MaxDecompressedResponseSize: 4}
		_, _, err := createSafeResponseReader(newResponse([]byte(`{"a":1}`), ""), small)
		assert.ErrorIs(t, err, errResponseTooLarge)
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		_, _, err := createSafeResponseReader(newResponse([]byte(`{}`), "br"), opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported content encoding")
	})

	t.Run("invalid gzip", func(t *testing.T) {
		_, _, err := createSafeResponseReader(newResponse([]byte("not gzip"), "gzip"), opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid gzip data")
	})

	t.Run("gzip body", func(t *testing.T) {
		r, cleanup, err := createSafeResponseReader(newResponse(gzipBytes(t, []byte(`{"next_batch":"x"}`)), "GZIP"), opts)
		require.NoError(t, err)
		defer cleanup()
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, `{"next_batch":"x"}`, string(got))
	})
}

func TestValidateClientOptions(t *testing.T) {
	require.NoError(t, ValidateClientOptions(DefaultClientOptions()))
	require.NoError(t, ValidateClientOptions(&ClientOptions{}))
	require.Error(t, ValidateClientOptions(nil))
	require.Error(t, ValidateClientOptions(&ClientOptions{MaxResponseSize: -1}))
	require.Error(t, ValidateClientOptions(&ClientOptions{MaxDecompressedResponseSize: -1}))
	require.Error(t, ValidateClientOptions(&ClientOptions{MaxResponseSize: 10, MaxDecompressedResponseSize: 5}))
}
