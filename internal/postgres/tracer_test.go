package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func TestWithHTTPMethod_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "POST")
	if got := httpMethodFromContext(ctx); got != "POST" {
		t.Errorf("httpMethodFromContext = %q, want %q", got, "POST")
	}
}

func TestWithHTTPMethod_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "")
	if got := httpMethodFromContext(ctx); got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
}

func TestRoutePatternFromContext_Missing(t *testing.T) {
	t.Parallel()

	if got := routePatternFromContext(context.Background()); got != "" {
		t.Errorf("routePatternFromContext = %q, want empty for plain context", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "SELECT 1", 200, "SELECT 1"},
		{"exact", "abc", 3, "abc"},
		{"long", "abcdef", 3, "abc..."},
		{"empty", "", 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestQueryObserver_CalledOnQueryEnd(t *testing.T) {
	// Not parallel: swaps the global query observer.

	type observation struct {
		method, route, outcome string
		dur                    time.Duration
	}
	var got []observation
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, method, route, outcome string, dur time.Duration) {
		got = append(got, observation{method, route, outcome, dur})
	}))
	defer SetQueryObserver(nil)

	tr := wrapQueryTracer(nil)
	ctx := WithHTTPMethod(context.Background(), "POST")
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	if len(got) != 1 {
		t.Fatalf("observations = %d, want 1", len(got))
	}
	if got[0].method != "POST" {
		t.Errorf("method = %q, want POST", got[0].method)
	}
	if got[0].outcome != "ok" {
		t.Errorf("outcome = %q, want ok", got[0].outcome)
	}
	if got[0].dur < 0 {
		t.Errorf("duration = %v, want >= 0", got[0].dur)
	}
}

func TestQueryObserver_ErrorOutcome(t *testing.T) {
	// Not parallel: swaps the global query observer.

	var outcome string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, _, _, got string, _ time.Duration) {
		outcome = got
	}))
	defer SetQueryObserver(nil)

	tr := wrapQueryTracer(nil)
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT broken"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: pgx.ErrNoRows})

	if outcome != "error" {
		t.Errorf("outcome = %q, want error", outcome)
	}
}
