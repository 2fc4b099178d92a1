package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/session-timer/internal/logging"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "persistence", err: persistenceFailure(errors.New("boom")), want: "persistence"},
		{name: "not found", err: fmt.Errorf("photo: %w", ErrNotFound), want: "not_found"},
		{name: "validation", err: unknownSession("x"), want: "validation"},
		{name: "other", err: errors.New("boom"), want: "unexpected"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ErrorKind(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctxLogger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := logging.ContextWithLogger(context.Background(), ctxLogger)

	serviceLogger(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), "CollectionManager", "Scan").Info("tick")

	out := buf.String()
	if !strings.Contains(out, "service=CollectionManager") || !strings.Contains(out, "operation=Scan") {
		t.Fatalf("expected service attributes in %q", out)
	}
}
