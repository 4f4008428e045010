package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	"github.com/c0deZ3R0/go-matrix-sync/storage/postgres"
	"github.com/c0deZ3R0/go-matrix-sync/synckit"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Sync failure
	ExitCommandError = 2 // Command error (bad flags, invalid configuration)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// printer writes events and summaries in the selected format.
type printer struct {
	format string
	w      io.Writer
}

type eventLine struct {
	Kind     string          `json:"kind"`
	RoomID   string          `json:"room_id,omitempty"`
	Type     string          `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Sender   string          `json:"sender,omitempty"`
	StateKey *string         `json:"state_key,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

func (p *printer) event(ev types.Event) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(eventLine{
			Kind:     ev.Kind.String(),
			RoomID:   ev.RoomID,
			Type:     ev.Type,
			EventID:  ev.EventID,
			Sender:   ev.Sender,
			StateKey: ev.StateKey,
			Content:  ev.Content,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %s", ev.Kind, ev.Type)
	if ev.RoomID != "" {
		fmt.Fprintf(&b, " room=%s", ev.RoomID)
	}
	if ev.EventID != "" {
		fmt.Fprintf(&b, " id=%s", ev.EventID)
	}
	if ev.Sender != "" {
		fmt.Fprintf(&b, " sender=%s", ev.Sender)
	}
	if ev.StateKey != nil {
		fmt.Fprintf(&b, " state_key=%q", *ev.StateKey)
	}
	_, err := fmt.Fprintln(p.w, b.String())
	return err
}

type cycleLine struct {
	Track      string `json:"track"`
	Since      string `json:"since"`
	NextBatch  string `json:"next_batch"`
	Events     int    `json:"events"`
	DurationMS int64  `json:"duration_ms"`
}

func (p *printer) cycle(r synckit.CycleResult) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(cycleLine{
			Track:      r.Track,
			Since:      string(r.Since),
			NextBatch:  string(r.NextBatch),
			Events:     r.Events,
			DurationMS: r.Duration.Milliseconds(),
		})
	}
	since := string(r.Since)
	if since == "" {
		since = "(initial)"
	}
	_, err := fmt.Fprintf(p.w, "%s: %s -> %s (%d events, %s)\n", r.Track, since, r.NextBatch, r.Events, r.Duration)
	return err
}

func (p *printer) tokens(all map[string]cursor.Token) error {
	if p.format == "json" {
		out := make(map[string]string, len(all))
		for k, v := range all {
			out[k] = string(v)
		}
		return json.NewEncoder(p.w).Encode(out)
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(p.w, "%s\t%s\n", name, all[name]); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) update(u postgres.TokenUpdate) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(u)
	}
	_, err := fmt.Fprintf(p.w, "%s\t%s\t%s\n", u.UpdatedAt.Format(time.RFC3339), u.Track, u.Token)
	return err
}
