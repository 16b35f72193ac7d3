package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/haukened/cmdblock/internal/cmdblock/repos/blockset/bloom"
)

func benchMakeCommands(n int, prefix string) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = fmt.Sprintf("%s%04d", prefix, i)
	}
	return out
}

func benchEngine(b *testing.B, withBloom bool) *Engine {
	b.Helper()
	targets := benchMakeCommands(500, "cmd")
	opts := Options{Targets: targets, ResolveAliases: true}
	if withBloom {
		opts.BloomFactory = bloom.NewFactory()
		opts.BloomFPRate = 0.01
	}
	m := make(map[string][]string, len(targets))
	for _, t := range targets {
		m[t] = []string{t + "-a", "mod:" + t}
	}
	res := newMapResolver(m)
	e := NewEngine(opts)
	if err := e.ResolveAliases(context.Background(), res); err != nil {
		b.Fatal(err)
	}
	return e
}

// Benchmark dispatch checks against 1,500 blocked names, mostly misses.
func BenchmarkIsBlocked_Miss(b *testing.B) {
	for _, withBloom := range []bool{false, true} {
		b.Run(fmt.Sprintf("bloom=%v", withBloom), func(b *testing.B) {
			e := benchEngine(b, withBloom)
			absent := benchMakeCommands(1000, "other")
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = e.IsBlocked(absent[i%len(absent)])
			}
		})
	}
}

func BenchmarkIsBlocked_Hit(b *testing.B) {
	e := benchEngine(b, true)
	present := benchMakeCommands(500, "cmd")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.IsBlocked(present[i%len(present)])
	}
}

func BenchmarkAddBlockedCommand(b *testing.B) {
	e := benchEngine(b, true)
	names := benchMakeCommands(b.N, "new")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.AddBlockedCommand(names[i])
	}
}
