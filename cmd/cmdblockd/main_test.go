package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/config"
)

// testEnv points every path at a temp dir and returns the alias dir.
func testEnv(t *testing.T) string {
	t.Helper()
	orig := log.GetLogger()
	t.Cleanup(func() { log.SetLogger(orig) })
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	aliasDir := filepath.Join(dir, "aliases.d")
	require.NoError(t, os.MkdirAll(aliasDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(aliasDir, "core.yaml"), []byte(`
namespace: bukkit
commands:
  plugins: [pl]
  version: [ver, about]
`), 0o600))

	t.Setenv("CBU_STATE_DB", filepath.Join(dir, "state", "targets.db"))
	t.Setenv("CBU_ALIAS_DIR", aliasDir)
	t.Setenv("CBU_LOG_LEVEL", "error")
	t.Setenv("CBU_HTTP_LISTEN", "")
	return aliasDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_CheckResolvesAliases(t *testing.T) {
	testEnv(t)

	out, err := run(t, "check", "/pl")
	assert.ErrorIs(t, err, errDenied)
	assert.Contains(t, out, "blocked: pl")
	assert.Contains(t, out, "You are not permitted")

	out, err = run(t, "check", "bukkit:about", "now")
	assert.ErrorIs(t, err, errDenied)
	assert.Contains(t, out, "blocked: bukkit:about")

	out, err = run(t, "check", "spawn")
	assert.NoError(t, err)
	assert.Contains(t, out, "allowed: spawn")

	out, err = run(t, "check", "--perm", "cmdblock.bypass", "--json", "help")
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, true, v["bypassed"])
}

func TestCLI_AddRemoveList(t *testing.T) {
	testEnv(t)

	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "help\nplugins\nversion\n", out)

	_, err = run(t, "add", "/me", "tell")
	require.NoError(t, err)
	_, err = run(t, "remove", "help", "nope")
	require.NoError(t, err)

	out, err = run(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "plugins\nversion\nme\ntell\n", out)

	out, err = run(t, "list", "--resolved")
	require.NoError(t, err)
	for _, name := range []string{"pl", "ver", "about", "bukkit:pl", "bukkit:version", "me", "tell"} {
		assert.Contains(t, strings.Fields(out), name)
	}
	assert.NotContains(t, strings.Fields(out), "help")
}

func TestCLI_ResolveDisabled(t *testing.T) {
	testEnv(t)
	t.Setenv("CBU_RESOLVE_ALIASES", "false")

	out, err := run(t, "check", "pl")
	assert.NoError(t, err)
	assert.Contains(t, out, "allowed: pl")
}

func TestCLI_InvalidConfig(t *testing.T) {
	testEnv(t)
	t.Setenv("CBU_ENV", "staging")

	_, err := run(t, "list")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestCLI_ServeBrokenConfigRunsOnDefaults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testEnv(t)
	addr := freeAddr(t)
	t.Setenv("CBU_HTTP_LISTEN", addr)
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("target-commands: [unterminated\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", path, "serve"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	base := fmt.Sprintf("http://%s/api", addr)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/stats")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/targets")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, []any{"help", "plugins", "version"}, body["targets"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestApplication_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	aliasDir := testEnv(t)
	addr := freeAddr(t)
	t.Setenv("CBU_HTTP_LISTEN", addr)

	cfg, err := config.Load("")
	require.NoError(t, err)
	app, err := buildApplication(cfg, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, reload) }()

	base := fmt.Sprintf("http://%s/api", addr)
	blocked := func(cmd string) bool {
		resp, err := http.Get(base + "/check?command=" + cmd)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		var v map[string]any
		if json.NewDecoder(resp.Body).Decode(&v) != nil {
			return false
		}
		return v["blocked"] == true
	}

	require.Eventually(t, func() bool { return blocked("ver") }, 5*time.Second, 20*time.Millisecond)

	// a registry push expands the blocked set
	req, err := http.NewRequest(http.MethodPut, base+"/registry/help", strings.NewReader(`{"aliases": ["?", "h"]}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Eventually(t, func() bool { return blocked("h") }, 5*time.Second, 20*time.Millisecond)

	// a new alias file is picked up by the watcher
	require.NoError(t, os.WriteFile(filepath.Join(aliasDir, "extra.json"), []byte(`{"commands": {"plugins": ["plugs"]}}`), 0o600))
	assert.Eventually(t, func() bool { return blocked("plugs") }, 5*time.Second, 50*time.Millisecond)

	reload <- struct{}{}
	assert.Eventually(t, func() bool { return blocked("plugs") }, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("application did not stop")
	}
}
