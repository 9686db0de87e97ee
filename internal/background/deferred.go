package background

import (
	"context"
	"net/http"
	"sync"
)

// Deferred collects tasks during a request so they run after the
// response is written.
type Deferred struct {
	mu    sync.Mutex
	tasks []Task
}

// Add appends a task.
func (d *Deferred) Add(name string, fn Func) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, Task{Name: name, Fn: fn})
}

// drain returns and clears the collected tasks.
func (d *Deferred) drain() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	tasks := d.tasks
	d.tasks = nil
	return tasks
}

type deferredKey struct{}

// WithDeferred returns ctx carrying d.
func WithDeferred(ctx context.Context, d *Deferred) context.Context {
	return context.WithValue(ctx, deferredKey{}, d)
}

// FromContext returns the Deferred list in ctx, or nil.
func FromContext(ctx context.Context) *Deferred {
	d, _ := ctx.Value(deferredKey{}).(*Deferred)
	return d
}

// Middleware gives each request a Deferred list and submits its tasks
// to r once the handler has returned.
func (r *Runner) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		d := &Deferred{}
		defer func() {
			for _, t := range d.drain() {
				r.Submit(t.Name, t.Fn)
			}
		}()
		next.ServeHTTP(w, req.WithContext(WithDeferred(req.Context(), d)))
	})
}
