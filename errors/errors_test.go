package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		component string
		code      ErrorCode
		err       error
		want      string
	}{
		{
			name:      "with component and code",
			op:        OpSync,
			component: "store",
			code:      ErrCodeStorageFailure,
			err:       fmt.Errorf("failed to connect"),
			want:      "sync operation failed in store component [STORAGE_FAILURE]: failed to connect",
		},
		{
			name:      "with component no code",
			op:        OpSync,
			component: "store",
			err:       fmt.Errorf("failed to connect"),
			want:      "sync operation failed in store component: failed to connect",
		},
		{
			name: "without component with code",
			op:   OpTransport,
			code: ErrCodeNetworkFailure,
			err:  fmt.Errorf("network error"),
			want: "transport operation failed [NETWORK_FAILURE]: network error",
		},
		{
			name: "without component or code",
			op:   OpSyncOnce,
			err:  fmt.Errorf("network error"),
			want: "sync_once operation failed: network error",
		},
		{
			name: "without cause",
			op:   OpStop,
			want: "stop operation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &SyncError{
				Op:        tt.op,
				Component: tt.component,
				Err:       tt.err,
				Code:      tt.code,
			}

			if got := e.Error(); got != tt.want {
				t.Errorf("SyncError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewNetworkError(t *testing.T) {
	cause := fmt.Errorf("network failure")
	syncErr := NewNetworkError(OpTransport, cause)

	if syncErr.Code != ErrCodeNetworkFailure {
		t.Errorf("NewNetworkError() Code = %v, want %v", syncErr.Code, ErrCodeNetworkFailure)
	}
	if syncErr.Component != "transport" {
		t.Errorf("NewNetworkError() Component = %v, want %v", syncErr.Component, "transport")
	}
	if syncErr.Kind != KindTransport {
		t.Errorf("NewNetworkError() Kind = %v, want %v", syncErr.Kind, KindTransport)
	}
	if !syncErr.Retryable {
		t.Error("NewNetworkError() created non-retryable error")
	}
}

func TestNewDecodeError(t *testing.T) {
	syncErr := NewDecodeError(OpDecode, fmt.Errorf("unexpected end of JSON input"))

	if syncErr.Kind != KindDecode {
		t.Errorf("NewDecodeError() Kind = %v, want %v", syncErr.Kind, KindDecode)
	}
	if !syncErr.Retryable {
		t.Error("NewDecodeError() created non-retryable error")
	}
}

func TestNewStorageError(t *testing.T) {
	cause := fmt.Errorf("storage failure")
	syncErr := NewStorageError(OpStore, cause)

	if syncErr.Code != ErrCodeStorageFailure {
		t.Errorf("NewStorageError() Code = %v, want %v", syncErr.Code, ErrCodeStorageFailure)
	}
	if syncErr.Err != cause {
		t.Errorf("NewStorageError() Err = %v, want %v", syncErr.Err, cause)
	}
	if !syncErr.Retryable {
		t.Error("NewStorageError() created non-retryable error")
	}
}

func TestNewCancelledError(t *testing.T) {
	syncErr := NewCancelledError(OpCancel, context.Canceled)

	if syncErr.Retryable {
		t.Error("NewCancelledError() created retryable error")
	}
	if !errors.Is(syncErr, context.Canceled) {
		t.Error("NewCancelledError() does not unwrap to context.Canceled")
	}
	if !Is(syncErr, KindCancelled) {
		t.Errorf("KindOf() = %v, want %v", KindOf(syncErr), KindCancelled)
	}
}

func TestE(t *testing.T) {
	t.Run("kind sets retryable", func(t *testing.T) {
		err := E(Op("httptransport.Sync"), Component("transport/http"), KindTransport, fmt.Errorf("dial tcp: refused"))

		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			t.Fatal("E() did not return a SyncError")
		}
		if syncErr.Op != "httptransport.Sync" {
			t.Errorf("Op = %v, want httptransport.Sync", syncErr.Op)
		}
		if syncErr.Component != "transport/http" {
			t.Errorf("Component = %v, want transport/http", syncErr.Component)
		}
		if !syncErr.Retryable {
			t.Error("transport error should be retryable")
		}
	})

	t.Run("nested kind is inherited", func(t *testing.T) {
		inner := NewDecodeError(OpDecode, fmt.Errorf("bad json"))
		err := E(Op("engine.cycle"), inner)
		if KindOf(err) != KindDecode {
			t.Errorf("KindOf() = %v, want %v", KindOf(err), KindDecode)
		}
		if !IsRetryable(err) {
			t.Error("nested decode error should stay retryable")
		}
	})

	t.Run("protocol error without explicit kind", func(t *testing.T) {
		err := E(Op("httptransport.Sync"), &ProtocolError{StatusCode: 404, ErrCode: "M_NOT_FOUND"})
		if KindOf(err) != KindProtocol {
			t.Errorf("KindOf() = %v, want %v", KindOf(err), KindProtocol)
		}
		if !IsRetryable(err) {
			t.Error("protocol error should be retryable")
		}
	})

	t.Run("strings become message", func(t *testing.T) {
		err := E(Op("sse.Subscribe"), "decode payload")
		want := "sse.Subscribe operation failed: decode payload"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		err := E(Op("engine.cycle"), context.Canceled)
		if !Is(err, KindCancelled) {
			t.Errorf("KindOf() = %v, want %v", KindOf(err), KindCancelled)
		}
		if IsRetryable(err) {
			t.Error("cancellation must not be retryable")
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "network error",
			err:  NewNetworkError(OpTransport, fmt.Errorf("temporary error")),
			want: true,
		},
		{
			name: "validation error",
			err:  NewValidationError(OpStart, fmt.Errorf("permanent error")),
			want: false,
		},
		{
			name: "non-sync error",
			err:  fmt.Errorf("regular error"),
			want: false,
		},
		{
			name: "wrapped retryable error",
			err:  fmt.Errorf("wrapped: %w", NewNetworkError(OpSync, fmt.Errorf("temporary"))),
			want: true,
		},
		{
			name: "bare protocol error",
			err:  &ProtocolError{StatusCode: 502},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtocolErrorAccessors(t *testing.T) {
	pe := &ProtocolError{
		StatusCode: 429,
		ErrCode:    "M_LIMIT_EXCEEDED",
		Message:    "Too many requests",
		RetryAfter: 1500 * time.Millisecond,
	}
	err := E(Op("httptransport.Sync"), KindProtocol, pe)

	if got := StatusCode(err); got != 429 {
		t.Errorf("StatusCode() = %d, want 429", got)
	}
	if got := ErrCode(err); got != "M_LIMIT_EXCEEDED" {
		t.Errorf("ErrCode() = %q, want M_LIMIT_EXCEEDED", got)
	}
	if got := RetryAfter(err); got != 1500*time.Millisecond {
		t.Errorf("RetryAfter() = %v, want 1.5s", got)
	}
	if got := pe.Error(); got != "status 429: M_LIMIT_EXCEEDED: Too many requests" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ProtocolError{StatusCode: 404}).Error(); got != "unexpected status 404" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapOpComponentKind(t *testing.T) {
	if WrapOpComponentKind(nil, "sqlite.Set", "storage/sqlite", KindStore) != nil {
		t.Fatal("WrapOpComponentKind(nil) should return nil")
	}

	err := WrapOpComponentKind(fmt.Errorf("disk I/O error"), "sqlite.Set", "storage/sqlite", KindStore)
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatal("errors.As() failed to detect SyncError")
	}
	if syncErr.Op != "sqlite.Set" || syncErr.Component != "storage/sqlite" {
		t.Errorf("got op=%s component=%s", syncErr.Op, syncErr.Component)
	}
	if !syncErr.Retryable {
		t.Error("store errors should be retryable")
	}
}
