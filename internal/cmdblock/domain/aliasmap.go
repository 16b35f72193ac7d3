package domain

import "sort"

// AliasMap maps a canonical command name to the alternate names the host
// registry knows for it, as of one point in time.
type AliasMap map[string][]string

// Add records aliases for command, skipping duplicates and the command's own name.
func (m AliasMap) Add(command string, aliases ...string) {
	existing := m[command]
	seen := make(map[string]struct{}, len(existing)+len(aliases))
	for _, a := range existing {
		seen[a] = struct{}{}
	}
	for _, a := range aliases {
		if a == "" || a == command {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		existing = append(existing, a)
	}
	m[command] = existing
}

// Merge folds every entry of other into m.
func (m AliasMap) Merge(other AliasMap) {
	for cmd, aliases := range other {
		m.Add(cmd, aliases...)
	}
}

// Aliases returns a copy of the aliases known for command, nil when unknown.
func (m AliasMap) Aliases(command string) []string {
	aliases, ok := m[command]
	if !ok || len(aliases) == 0 {
		return nil
	}
	return append([]string(nil), aliases...)
}

// Clone returns a deep copy.
func (m AliasMap) Clone() AliasMap {
	out := make(AliasMap, len(m))
	for cmd, aliases := range m {
		out[cmd] = append([]string(nil), aliases...)
	}
	return out
}

// Commands returns the canonical command names in sorted order.
func (m AliasMap) Commands() []string {
	out := make([]string, 0, len(m))
	for cmd := range m {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}
