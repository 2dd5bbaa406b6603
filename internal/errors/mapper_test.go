package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError_Categories(t *testing.T) {
	m := NewDefaultErrorMapper()

	cases := []struct {
		in   string
		want error
	}{
		{"page not found", ErrNotFound},
		{"401 unauthorized", ErrPermissionDenied},
		{"rate limit exceeded", ErrTransient},
		{"bad request: missing field", ErrInvalidInput},
		{"connection refused", ErrTransient},
		{"object already exists", ErrConflict},
		{"something exploded", ErrInternal},
	}

	for _, tc := range cases {
		got := m.MapError(errors.New(tc.in))
		if !errors.Is(got, tc.want) {
			t.Errorf("MapError(%q) = %v, want category %v", tc.in, got, tc.want)
		}
	}
}

func TestMapError_ContextCanceledPassesThrough(t *testing.T) {
	m := NewDefaultErrorMapper()

	got := m.MapError(context.Canceled)
	if !errors.Is(got, context.Canceled) {
		t.Fatalf("context.Canceled should pass through, got %v", got)
	}
	if errors.Is(got, ErrInternal) {
		t.Fatal("context.Canceled must not be reclassified")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transient("socket closed")) {
		t.Error("transient errors are retryable")
	}
	if !IsRetryable(fmt.Errorf("write race: %w", ErrConflict)) {
		t.Error("conflicts are retryable")
	}
	if IsRetryable(NotFound("window gone")) {
		t.Error("not-found is not retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestIsCategory(t *testing.T) {
	err := InvalidRange("end before start")
	if !IsCategory(err, ErrInvalidRange) {
		t.Fatal("wrapped invalid range should match its sentinel")
	}
	if IsCategory(err, ErrAmbiguous) {
		t.Fatal("invalid range must not match ambiguous")
	}
}
