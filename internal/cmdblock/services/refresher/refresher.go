// Package refresher keeps the blocked set in step with the alias registry by
// re-running alias resolution periodically and on demand.
package refresher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/cmdblock/internal/cmdblock/common/clock"
	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/services/policy"
)

// ErrNilEngine is returned by New without an engine.
var ErrNilEngine = errors.New("refresher requires an engine")

// Engine is the part of policy.Engine the refresher drives.
type Engine interface {
	ResolveAliases(ctx context.Context, resolver policy.AliasResolver) error
}

// Options configures a Refresher.
type Options struct {
	Engine   Engine
	Resolver policy.AliasResolver
	// Interval between scheduled runs; 0 runs on Trigger only.
	Interval time.Duration
	Clock    clock.Clock
	Logger   log.Logger
}

// Refresher runs alias resolution in the background. Triggers that arrive
// while a run is in progress collapse into a single follow-up run.
type Refresher struct {
	engine   Engine
	resolver policy.AliasResolver
	interval time.Duration
	clock    clock.Clock
	logger   log.Logger

	trigger  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	runs     atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
}

// New builds a Refresher; call Start to begin the loop.
func New(opts Options) (*Refresher, error) {
	if opts.Engine == nil {
		return nil, ErrNilEngine
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Refresher{
		engine:   opts.Engine,
		resolver: opts.Resolver,
		interval: opts.Interval,
		clock:    clk,
		logger:   log.OrNoop(opts.Logger),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}, nil
}

// RunOnce resolves aliases synchronously.
func (r *Refresher) RunOnce(ctx context.Context) error {
	start := r.clock.Now()
	err := r.engine.ResolveAliases(ctx, r.resolver)
	end := r.clock.Now()
	r.runs.Add(1)
	r.mu.Lock()
	r.lastRun = end
	r.mu.Unlock()
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn(map[string]any{"error": err}, "Alias resolution failed")
		return err
	}
	r.logger.Debug(map[string]any{"elapsed": end.Sub(start).String()}, "Alias resolution complete")
	return nil
}

// Start launches the background loop. It returns immediately; the loop
// ends when ctx is done or Stop is called.
func (r *Refresher) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Trigger requests a run without blocking.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for an in-flight run to finish.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Stats returns how many runs happened and how many of them failed.
func (r *Refresher) Stats() (runs, failures uint64) {
	return r.runs.Load(), r.failures.Load()
}

// LastRun is when the most recent run finished, failed or not. It is zero
// before the first run.
func (r *Refresher) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-tick:
			_ = r.RunOnce(ctx)
		case <-r.trigger:
			_ = r.RunOnce(ctx)
		}
	}
}
