// Package synckit implements the client side of the Matrix /sync protocol:
// a long-poll loop that advances a durable batch token and fans the
// normalized events of every response out to subscribers.
package synckit

import (
	"context"

	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// Transport performs one /sync exchange and returns the raw response body.
// Implementations report non-success responses as *errors.ProtocolError and
// must return promptly when ctx is done.
type Transport interface {
	Sync(ctx context.Context, req types.SyncRequest) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req types.SyncRequest) ([]byte, error)

// Sync implements Transport.
func (f TransportFunc) Sync(ctx context.Context, req types.SyncRequest) ([]byte, error) {
	return f(ctx, req)
}

// Codec decodes a raw /sync body.
type Codec interface {
	Decode(body []byte) (*types.SyncResponse, error)
}
