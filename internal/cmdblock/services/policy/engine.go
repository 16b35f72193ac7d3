// Package policy decides whether a dispatched command is blocked.
//
// The Engine owns the raw target list (what administrators typed) and the
// derived blocked set (targets plus every alias resolved for them). Queries
// read an immutable snapshot of the blocked set without locking; writers
// build a replacement off to the side and publish it atomically.
//
// Aliases are garbage-collected only on a full ResolveAliases pass, never on
// individual removal: alias ownership is not tracked, so removing a target
// leaves its aliases blocked until the next resolution.
package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/cmdblock/internal/cmdblock/common/clock"
	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/common/utils"
	"github.com/haukened/cmdblock/internal/cmdblock/repos/blockset"
)

// ErrNilResolver is returned by ResolveAliases when resolution is enabled
// but no resolver was supplied.
var ErrNilResolver = errors.New("alias resolver is nil")

// Options configures an Engine.
type Options struct {
	// Targets is the initial raw target list, in configured order.
	Targets []string
	// ResolveAliases enables alias expansion on ResolveAliases calls.
	ResolveAliases bool
	// Messages holds the bypass/notify settings used by Check.
	Messages Messages
	// BloomFactory, when set, gives every published set a bloom prefilter.
	BloomFactory blockset.BloomFactory
	BloomFPRate  float64
	Clock        clock.Clock
	Logger       log.Logger
}

// Stats is a point-in-time view of the engine for introspection.
type Stats struct {
	Version         uint64    `json:"version"`
	BuiltAt         time.Time `json:"built_at"`
	RawTargets      int       `json:"raw_targets"`
	Blocked         int       `json:"blocked"`
	ResolveAliases  bool      `json:"resolve_aliases"`
	Resolves        uint64    `json:"resolves"`
	LastResolveAt   time.Time `json:"last_resolve_at"`
	LastResolveFail string    `json:"last_resolve_error,omitempty"`
}

// Engine is the command-blocking policy engine.
type Engine struct {
	factory blockset.BloomFactory
	fpRate  float64
	clock   clock.Clock
	logger  log.Logger

	// refreshMu serializes registry refreshes so they run outside mu.
	refreshMu sync.Mutex

	// mu serializes every writer; readers never take it.
	mu             sync.Mutex
	raw            []string
	resolveAliases bool
	version        uint64
	resolves       uint64
	lastResolveAt  time.Time
	lastResolveErr error

	blocked  atomic.Pointer[blockset.Set]
	messages atomic.Pointer[Messages]
}

// NewEngine builds an Engine whose blocked set holds exactly the raw targets.
// Aliases become blocked on the first ResolveAliases call.
func NewEngine(opts Options) *Engine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	e := &Engine{
		factory:        opts.BloomFactory,
		fpRate:         opts.BloomFPRate,
		clock:          clk,
		logger:         log.OrNoop(opts.Logger),
		raw:            slices.Clone(opts.Targets),
		resolveAliases: opts.ResolveAliases,
	}
	msgs := opts.Messages
	e.messages.Store(&msgs)

	e.mu.Lock()
	e.publish(e.rawOnlyBuilder())
	e.mu.Unlock()
	return e
}

// IsBlocked reports whether command, or command with its mod prefix
// stripped ("minecraft:me" -> "me"), is in the blocked set. No other
// normalization is applied.
func (e *Engine) IsBlocked(command string) bool {
	set := e.blocked.Load()
	return set.Contains(command) || set.Contains(utils.RemoveModPrefix(command))
}

// ResolveAliases rebuilds the blocked set from scratch.
//
// With resolution disabled the set becomes a copy of the raw targets and the
// resolver is not touched. Otherwise the resolver is refreshed, then every
// raw target and all of its resolved aliases are published as the new set.
// A failed refresh leaves the live set untouched and returns the error.
func (e *Engine) ResolveAliases(ctx context.Context, resolver AliasResolver) error {
	e.mu.Lock()
	if !e.resolveAliases {
		e.publish(e.rawOnlyBuilder())
		e.recordResolve(nil)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if resolver == nil {
		return ErrNilResolver
	}

	e.refreshMu.Lock()
	err := resolver.RefreshMap(ctx)
	e.refreshMu.Unlock()
	if err != nil {
		e.mu.Lock()
		e.recordResolve(err)
		e.mu.Unlock()
		e.logger.Warn(map[string]any{"error": err}, "Alias refresh failed, keeping previous blocked set")
		return fmt.Errorf("refresh alias map: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// the flag may have been switched off by a reload while refreshing
	if !e.resolveAliases {
		e.publish(e.rawOnlyBuilder())
		e.recordResolve(nil)
		return nil
	}

	targets := slices.Clone(e.raw)
	b := blockset.NewBuilder(e.factory, e.fpRate, len(targets)*4)
	aliases := 0
	for _, t := range targets {
		b.Add(t)
		resolved := resolver.Resolve(t)
		aliases += len(resolved)
		b.Add(resolved...)
	}
	set := e.publish(b)
	e.recordResolve(nil)

	e.logger.Debug(map[string]any{
		"raw_targets": len(targets),
		"aliases":     aliases,
		"blocked":     set.Len(),
		"version":     set.Version(),
	}, "Blocked commands resolved")
	return nil
}

// AddBlockedCommand appends command to the raw targets and blocks its literal
// name immediately. Aliases follow on the next ResolveAliases. Adding a
// command that is already a raw target is a no-op.
func (e *Engine) AddBlockedCommand(command string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if slices.Contains(e.raw, command) {
		return
	}
	e.raw = append(e.raw, command)
	current := e.blocked.Load()
	e.publish(blockset.NewBuilder(e.factory, e.fpRate, current.Len()+1).From(current).Add(command))
}

// RemoveBlockedCommand drops command from the raw targets (first occurrence)
// and its literal name from the blocked set, reporting whether the blocked
// set contained it. Aliases contributed by command stay blocked until the
// next ResolveAliases. With duplicate raw entries the literal name still
// leaves the set, and the next ResolveAliases re-blocks it from the copy
// that remains.
func (e *Engine) RemoveBlockedCommand(command string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i := slices.Index(e.raw, command); i >= 0 {
		e.raw = slices.Delete(e.raw, i, i+1)
	}
	current := e.blocked.Load()
	b := blockset.NewBuilder(e.factory, e.fpRate, current.Len()).From(current)
	if !b.Remove(command) {
		return false
	}
	e.publish(b)
	return true
}

// Reload replaces the raw targets and the resolution flag, resetting the
// blocked set to the raw names only. Callers follow up with ResolveAliases.
func (e *Engine) Reload(targets []string, resolveAliases bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.raw = slices.Clone(targets)
	e.resolveAliases = resolveAliases
	e.publish(e.rawOnlyBuilder())
}

// SetMessages swaps the bypass/notify settings used by Check.
func (e *Engine) SetMessages(m Messages) {
	e.messages.Store(&m)
}

// RawTargets returns a copy of the raw target list in configured order.
func (e *Engine) RawTargets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.raw)
}

// BlockedCommands returns the current blocked set, sorted.
func (e *Engine) BlockedCommands() []string {
	return e.blocked.Load().Members()
}

// ResolvesAliases reports whether alias resolution is enabled.
func (e *Engine) ResolvesAliases() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveAliases
}

// Stats returns counters describing the current snapshot.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.blocked.Load()
	st := Stats{
		Version:        set.Version(),
		BuiltAt:        set.BuiltAt(),
		RawTargets:     len(e.raw),
		Blocked:        set.Len(),
		ResolveAliases: e.resolveAliases,
		Resolves:       e.resolves,
		LastResolveAt:  e.lastResolveAt,
	}
	if e.lastResolveErr != nil {
		st.LastResolveFail = e.lastResolveErr.Error()
	}
	return st
}

// Persist saves the raw target list to store.
func (e *Engine) Persist(store TargetStore) error {
	if err := store.Save(e.RawTargets()); err != nil {
		return fmt.Errorf("persist targets: %w", err)
	}
	return nil
}

// rawOnlyBuilder must be called with mu held.
func (e *Engine) rawOnlyBuilder() *blockset.Builder {
	return blockset.NewBuilder(e.factory, e.fpRate, len(e.raw)).Add(e.raw...)
}

// publish must be called with mu held.
func (e *Engine) publish(b *blockset.Builder) *blockset.Set {
	e.version++
	set := b.Build(e.version, e.clock.Now())
	e.blocked.Store(set)
	return set
}

// recordResolve must be called with mu held.
func (e *Engine) recordResolve(err error) {
	e.resolves++
	e.lastResolveAt = e.clock.Now()
	e.lastResolveErr = err
}
