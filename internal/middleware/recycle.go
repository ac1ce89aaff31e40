package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
)

// Recycler counts requests and signals once a limit is reached, so the
// server can drain and exit for its supervisor to restart it.
type Recycler struct {
	max   int64
	count atomic.Int64
	once  sync.Once
	done  chan struct{}
}

// NewRecycler signals after max requests. max <= 0 never signals.
func NewRecycler(max int) *Recycler {
	return &Recycler{max: int64(max), done: make(chan struct{})}
}

// Done is closed when the request limit has been reached.
func (rc *Recycler) Done() <-chan struct{} {
	return rc.done
}

// Count reports how many requests have been started.
func (rc *Recycler) Count() int64 {
	return rc.count.Load()
}

func (rc *Recycler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := rc.count.Add(1)
		if rc.max > 0 && n >= rc.max {
			rc.once.Do(func() { close(rc.done) })
		}
		next.ServeHTTP(w, r)
	})
}
