package aliasmap

import (
	"context"
	"sync"

	"github.com/haukened/cmdblock/internal/cmdblock/domain"
)

// RegistryEvent describes a change to the live command registry.
type RegistryEvent struct {
	Command    string
	Registered bool // false when the command was unregistered
}

// Registry is the live, mutable command map the host populates as plugins
// register and unregister commands. It doubles as a Source so a Resolver can
// snapshot it on refresh.
type Registry struct {
	mu       sync.RWMutex
	commands domain.AliasMap
	hooks    []func(RegistryEvent)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: domain.AliasMap{}}
}

// OnChange adds a hook invoked after every Register/Unregister. Hooks run on
// the caller's goroutine and must not call back into the registry.
func (r *Registry) OnChange(fn func(RegistryEvent)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Register records command with the given aliases, replacing any aliases it
// had before.
func (r *Registry) Register(command string, aliases ...string) {
	r.mu.Lock()
	delete(r.commands, command)
	r.commands.Add(command, aliases...)
	hooks := r.hooks
	r.mu.Unlock()

	r.notify(hooks, RegistryEvent{Command: command, Registered: true})
}

// Unregister removes command and reports whether it was registered.
func (r *Registry) Unregister(command string) bool {
	r.mu.Lock()
	_, ok := r.commands[command]
	delete(r.commands, command)
	hooks := r.hooks
	r.mu.Unlock()

	if ok {
		r.notify(hooks, RegistryEvent{Command: command, Registered: false})
	}
	return ok
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

func (r *Registry) Name() string { return "registry" }

// Load snapshots the registry.
func (r *Registry) Load(ctx context.Context) (domain.AliasMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands.Clone(), nil
}

func (r *Registry) notify(hooks []func(RegistryEvent), ev RegistryEvent) {
	for _, fn := range hooks {
		fn(ev)
	}
}

var _ Source = (*Registry)(nil)
