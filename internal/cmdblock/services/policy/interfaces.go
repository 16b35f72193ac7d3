package policy

import "context"

//go:generate mockgen -source=interfaces.go -destination=mock_interfaces.go -package=policy

// AliasResolver is the host's alias knowledge, as consumed by the Engine.
//
// RefreshMap resynchronizes with the live command registry. It may be slow
// and must be safe to call repeatedly. Resolve reports the aliases known for
// a command as of the last refresh; it never blocks on the registry and
// returns nothing for commands it does not know.
type AliasResolver interface {
	RefreshMap(ctx context.Context) error
	Resolve(command string) []string
}

// TargetStore persists the raw target list between runs.
// Load reports ok=false when nothing has been stored yet.
type TargetStore interface {
	Load() (targets []string, ok bool, err error)
	Save(targets []string) error
}
