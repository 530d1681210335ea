// Package guard serializes access to a single heavyweight resource that is
// not safe for concurrent use, such as a loaded transcription model.
//
// Every caller across every client and dispatch policy funnels through one
// capacity-1 token, so the guarded step is the throughput ceiling of the
// whole process. That is accepted: the model keeps internal state between
// sub-segments and must never be entered twice.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Guard is an exclusive-resource token of capacity one.
type Guard struct {
	name   string
	token  chan struct{}
	logger *slog.Logger

	waiting  atomic.Int64
	acquired atomic.Int64
	holder   atomic.Value // string
}

// New creates a guard for the named resource.
func New(name string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		name:   name,
		token:  make(chan struct{}, 1),
		logger: logger.With("resource", name),
	}
}

// Acquire blocks until the token is free or ctx is done. The returned
// release func is idempotent and must be called on every exit path.
func (g *Guard) Acquire(ctx context.Context, holder string) (func(), error) {
	g.waiting.Add(1)
	start := time.Now()

	select {
	case g.token <- struct{}{}:
		g.waiting.Add(-1)
	case <-ctx.Done():
		g.waiting.Add(-1)
		return func() {}, fmt.Errorf("acquire %s: %w", g.name, ctx.Err())
	}

	g.acquired.Add(1)
	g.holder.Store(holder)
	if wait := time.Since(start); wait > time.Second {
		g.logger.Info("resource acquired after wait", "holder", holder, "wait_ms", wait.Milliseconds())
	} else {
		g.logger.Debug("resource acquired", "holder", holder)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.holder.Store("")
			<-g.token
			g.logger.Debug("resource released", "holder", holder, "held_ms", time.Since(start).Milliseconds())
		})
	}, nil
}

// Do runs fn while holding the token. The token is released even if fn panics.
func (g *Guard) Do(ctx context.Context, holder string, fn func() error) error {
	release, err := g.Acquire(ctx, holder)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Stats is a point-in-time view of guard usage.
type Stats struct {
	Resource string `json:"resource"`
	InUse    bool   `json:"in_use"`
	Holder   string `json:"holder,omitempty"`
	Waiting  int64  `json:"waiting"`
	Acquired int64  `json:"acquired_total"`
}

// Stats reports current usage.
func (g *Guard) Stats() Stats {
	holder, _ := g.holder.Load().(string)
	return Stats{
		Resource: g.name,
		InUse:    len(g.token) == 1,
		Holder:   holder,
		Waiting:  g.waiting.Load(),
		Acquired: g.acquired.Load(),
	}
}
