package synckit

import (
	"time"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// Cycle is one completed request/response exchange handed to a SyncOnce
// handler.
type Cycle struct {
	Request  types.SyncRequest
	Response *types.SyncResponse
	Events   []types.Event
}

// NextBatch returns the token the server issued with this cycle.
func (c *Cycle) NextBatch() cursor.Token {
	if c == nil || c.Response == nil {
		return ""
	}
	return c.Response.NextBatch
}

// CycleResult summarizes a successful cycle. It is delivered to OnCycle
// observers after the batch token has been persisted.
type CycleResult struct {
	Track     string
	Since     cursor.Token
	NextBatch cursor.Token
	Events    int

	// Attempts is 1 plus the number of failed attempts that preceded this
	// cycle with the same since token.
	Attempts int

	StartTime time.Time
	Duration  time.Duration
}
