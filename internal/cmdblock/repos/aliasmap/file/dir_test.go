package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/cmdblock/internal/cmdblock/domain"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestDirSource_LoadFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-core.yaml", `
commands:
  help: ["?", "h"]
  plugins: pl
  version:
`)
	writeFile(t, dir, "20-extra.json", `{"commands": {"tell": ["msg", "w"], "help": ["info"]}}`)
	writeFile(t, dir, "30-more.toml", `
[commands]
spawn = ["hub", "lobby"]
`)
	writeFile(t, dir, "README.md", "ignored")

	src := NewDirSource(dir, nil)
	m, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"?", "h", "info"}, m.Aliases("help"))
	assert.Equal(t, []string{"pl"}, m.Aliases("plugins"))
	assert.Nil(t, m.Aliases("version"))
	assert.Equal(t, []string{"msg", "w"}, m.Aliases("tell"))
	assert.Equal(t, []string{"hub", "lobby"}, m.Aliases("spawn"))
	assert.Equal(t, "file:"+dir, src.Name())
	assert.Equal(t, dir, src.Dir())
}

func TestDirSource_Namespace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "essentials.yml", `
namespace: essentials
commands:
  tell: [msg]
`)
	m, err := NewDirSource(dir, nil).Load(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"msg", "essentials:tell", "essentials:msg"}, m.Aliases("tell"))
	assert.ElementsMatch(t, []string{"tell", "msg", "essentials:msg"}, m.Aliases("essentials:tell"))
}

func TestDirSource_DottedCommandNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dots.yaml", `
commands:
  "worldedit.wand": ["//wand"]
  "bukkit:ver": ["bukkit:about"]
`)
	m, err := NewDirSource(dir, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"//wand"}, m.Aliases("worldedit.wand"))
	assert.Equal(t, []string{"bukkit:about"}, m.Aliases("bukkit:ver"))
}

func TestDirSource_SlashCommandNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "worldedit.yaml", `
namespace: worldedit
commands:
  /wand: [/w]
  "/set": /s
`)
	writeFile(t, dir, "worldedit.toml", `
[commands]
"/pos1" = ["/1"]
`)
	m, err := NewDirSource(dir, nil).Load(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/w", "worldedit:/wand", "worldedit:/w"}, m.Aliases("/wand"))
	assert.Contains(t, m.Aliases("/set"), "/s")
	assert.Equal(t, []string{"/1"}, m.Aliases("/pos1"))
}

func TestDirSource_NestedTableError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nested.yaml", "commands:\n  worldedit:\n    wand: w\n")
	_, err := NewDirSource(dir, nil).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `command "worldedit"`)
	assert.Contains(t, err.Error(), "nested table")
	assert.NotContains(t, err.Error(), "map[string]interface")
}

func TestDirSource_MissingDirectory(t *testing.T) {
	m, err := NewDirSource(filepath.Join(t.TempDir(), "nope"), nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.AliasMap{}, m)
}

func TestDirSource_Errors(t *testing.T) {
	cases := map[string]struct {
		name, body string
	}{
		"malformed yaml":     {"bad.yaml", "commands: [oops\n"},
		"commands not table": {"list.yaml", "commands: [help, version]\n"},
		"numeric alias":      {"num.json", `{"commands": {"help": [1, 2]}}`},
		"object alias":       {"obj.json", `{"commands": {"help": {"a": "b"}}}`},
		"namespaced ns":      {"ns.yaml", "namespace: a:b\ncommands:\n  help: h\n"},
		"spaced command":     {"space.json", `{"commands": {"two words": ["tw"]}}`},
		"spaced alias":       {"alias.json", `{"commands": {"help": ["h elp"]}}`},
		"empty command":      {"empty.json", `{"commands": {" ": ["x"]}}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tc.name, tc.body)
			_, err := NewDirSource(dir, nil).Load(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestDirSource_NoCommandsKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.yaml", "namespace: foo\n")
	m, err := NewDirSource(dir, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestDirSource_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "commands:\n  help: h\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirSource(dir, nil).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupported(t *testing.T) {
	for path, want := range map[string]bool{
		"a.yaml":   true,
		"a.YML":    true,
		"a.json":   true,
		"a.toml":   true,
		"a.txt":    false,
		"a.yaml~":  false,
		"noext":    false,
		".swp.yml": true,
	} {
		assert.Equal(t, want, Supported(path), path)
	}
}

func TestNormalize(t *testing.T) {
	got, err := normalize(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = normalize("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = normalize([]any{" a ", "", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = normalize(42)
	assert.Error(t, err)
}
