package background

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRunner(t *testing.T) (*Runner, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	r := NewRunner(2, 8, slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return r, logs
}

func TestRunner_RunsAndDrains(t *testing.T) {
	r, _ := newTestRunner(t)
	var n atomic.Int32
	for range 10 {
		r.Submit("count", func(context.Context) error {
			time.Sleep(time.Millisecond)
			n.Add(1)
			return nil
		})
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := n.Load(); got != 10 {
		t.Errorf("ran %d tasks, want 10", got)
	}
}

func TestRunner_FailureIsLogged(t *testing.T) {
	r, logs := newTestRunner(t)
	r.Submit("persist", func(context.Context) error { return errors.New("disk full") })
	r.Submit("explode", func(context.Context) error { panic("bad") })
	_ = r.Close(context.Background())

	out := logs.String()
	if strings.Count(out, "background task failed") != 2 {
		t.Errorf("logs = %s", out)
	}
	if !strings.Contains(out, "disk full") || !strings.Contains(out, "panic: bad") {
		t.Errorf("logs missing error text: %s", out)
	}
}

func TestRunner_SubmitAfterClose(t *testing.T) {
	r, logs := newTestRunner(t)
	_ = r.Close(context.Background())

	ran := false
	r.Submit("late", func(context.Context) error { ran = true; return nil })
	if ran {
		t.Error("task ran after Close")
	}
	if !strings.Contains(logs.String(), "runner closed") {
		t.Errorf("no warning logged: %s", logs.String())
	}
	if err := r.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRunner_CloseTimeout(t *testing.T) {
	r, _ := newTestRunner(t)
	started := make(chan struct{})
	r.Submit("slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close err = %v, want deadline exceeded", err)
	}
}

func TestMiddleware_RunsAfterHandler(t *testing.T) {
	r, _ := newTestRunner(t)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.Schedule(req.Context(), "after", func(context.Context) error {
			record("task")
			return nil
		})
		record("handler")
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_ = r.Close(context.Background())

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if len(order) != 2 || order[0] != "handler" || order[1] != "task" {
		t.Errorf("order = %v", order)
	}
}

func TestSchedule_WithoutDeferredSubmits(t *testing.T) {
	r, _ := newTestRunner(t)
	var ran atomic.Bool
	r.Schedule(context.Background(), "direct", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	_ = r.Close(context.Background())
	if !ran.Load() {
		t.Error("task did not run")
	}
}
