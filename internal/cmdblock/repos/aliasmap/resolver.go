// Package aliasmap resolves command names to the aliases the host knows for
// them. A Resolver keeps a point-in-time AliasMap assembled from one or more
// Sources and only touches those sources on RefreshMap.
package aliasmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haukened/cmdblock/internal/cmdblock/common/clock"
	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/domain"
	"github.com/haukened/cmdblock/internal/cmdblock/services/policy"
)

var (
	// ErrNoSource is returned when a Resolver is constructed without sources.
	ErrNoSource = errors.New("alias resolver requires at least one source")
	// ErrAllSourcesFailed is returned by RefreshMap when no source could be loaded.
	ErrAllSourcesFailed = errors.New("no alias source could be loaded")
)

// Source supplies alias knowledge from one place (live registry, files, ...).
type Source interface {
	Name() string
	Load(ctx context.Context) (domain.AliasMap, error)
}

// Options configures a Resolver.
type Options struct {
	Sources []Source
	Clock   clock.Clock
	Logger  log.Logger
}

// Resolver implements policy.AliasResolver over a set of Sources.
type Resolver struct {
	sources []Source
	clock   clock.Clock
	logger  log.Logger

	refreshMu sync.Mutex // serializes RefreshMap

	mu         sync.RWMutex
	current    domain.AliasMap
	generation uint64
	loadedAt   time.Time
}

// NewResolver constructs a Resolver. The map starts empty until the first RefreshMap.
func NewResolver(opts Options) (*Resolver, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSource
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Resolver{
		sources: append([]Source(nil), opts.Sources...),
		clock:   clk,
		logger:  log.OrNoop(opts.Logger),
		current: domain.AliasMap{},
	}, nil
}

// RefreshMap reloads every source and swaps in the merged map. Sources that
// fail are skipped and logged; if all of them fail the previous map is kept
// and ErrAllSourcesFailed is returned. The generation only advances when the
// merged map differs from the current one.
func (r *Resolver) RefreshMap(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	merged := domain.AliasMap{}
	var errs []error
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := src.Load(ctx)
		if err != nil {
			r.logger.Warn(map[string]any{"source": src.Name(), "error": err}, "Alias source failed to load")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		merged.Merge(m)
	}
	if len(errs) == len(r.sources) {
		return fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}

	now := r.clock.Now()
	r.mu.Lock()
	changed := !equalMaps(r.current, merged)
	if changed {
		r.current = merged
		r.generation++
	}
	r.loadedAt = now
	gen := r.generation
	r.mu.Unlock()

	r.logger.Debug(map[string]any{
		"commands":   len(merged),
		"changed":    changed,
		"generation": gen,
		"failed":     len(errs),
	}, "Alias map refreshed")
	return nil
}

// Resolve returns the aliases known for command as of the last RefreshMap.
// Unknown commands resolve to nil.
func (r *Resolver) Resolve(command string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Aliases(command)
}

// Generation increases every time a refresh changes the alias map.
func (r *Resolver) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// LoadedAt is the time of the last successful refresh.
func (r *Resolver) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// Snapshot returns a copy of the current alias map.
func (r *Resolver) Snapshot() domain.AliasMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Clone()
}

func equalMaps(a, b domain.AliasMap) bool {
	if len(a) != len(b) {
		return false
	}
	for cmd, aa := range a {
		bb, ok := b[cmd]
		if !ok || len(aa) != len(bb) {
			return false
		}
		for i := range aa {
			if aa[i] != bb[i] {
				return false
			}
		}
	}
	return true
}

var _ policy.AliasResolver = (*Resolver)(nil)
