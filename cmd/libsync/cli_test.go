package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/libsync/internal/config"
	"github.com/BadgerOps/libsync/internal/testutil"
)

type testEnv struct {
	dir        string
	configPath string
	destDir    string
	archive    string
}

// newTestEnv writes a config file, a destination directory and a fixture
// archive holding one ARM and one x86 library.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "libsync.yaml"),
		destDir:    filepath.Join(dir, "lib"),
	}
	require.NoError(t, os.Mkdir(env.destDir, 0o755))

	modified := time.Date(2024, 5, 6, 7, 8, 10, 0, time.UTC)
	env.archive = testutil.WriteZip(t, dir, "plugin.apk", []testutil.ZipMember{
		{Name: "lib/armeabi/libfoo.so", Body: []byte("arm library"), Modified: modified},
		{Name: "lib/x86/libfoo.so", Body: []byte("x86 library"), Modified: modified},
		{Name: "classes.dex", Body: []byte("dex"), Modified: modified},
	})

	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(dir, "state.db")
	cfg.Sync.DestDir = env.destDir
	cfg.Sync.Arch = "arm"
	cfg.Sync.CPUInfoPath = filepath.Join(dir, "cpuinfo")
	cfg.Sync.Workers = 2
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Save(env.configPath))
	return env
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, env *testEnv, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	cmd.SetArgs(append([]string{"--config", env.configPath, "--log-level", "error"}, args...))
	cmd.SetErr(io.Discard)

	var err error
	out := captureStdout(t, func() {
		err = cmd.Execute()
	})
	return out, err
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	_ = r.Close()
	return string(data)
}

func TestSyncStatusForget(t *testing.T) {
	env := newTestEnv(t, nil)

	out, err := execute(t, env, "sync", env.archive)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Copied:     1")
	got, err := os.ReadFile(filepath.Join(env.destDir, "libfoo.so"))
	require.NoError(t, err)
	assert.Equal(t, "arm library", string(got), "extracted the wrong library")

	out, err = execute(t, env, "sync", env.archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Skipped:    1")
	assert.Contains(t, out, "Copied:     0")

	out, err = execute(t, env, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "lib/armeabi/libfoo.so")
	assert.Contains(t, out, "success")

	out, err = execute(t, env, "forget", "lib/armeabi/libfoo.so")
	require.NoError(t, err)
	assert.Contains(t, out, "forgot: lib/armeabi/libfoo.so")

	out, err = execute(t, env, "sync", env.archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Copied:     1", "forgotten entry must be copied again")
}

func TestSyncDryRun(t *testing.T) {
	env := newTestEnv(t, nil)

	out, err := execute(t, env, "sync", "--dry-run", "--arch", "x86", env.archive)
	require.NoError(t, err)
	assert.Contains(t, out, "DRY RUN")
	assert.Contains(t, out, "- lib/x86/libfoo.so")

	entries, err := os.ReadDir(env.destDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run must not write")
}

func TestSyncReportsFailures(t *testing.T) {
	env := newTestEnv(t, nil)

	missing := filepath.Join(env.destDir, "missing")
	out, err := execute(t, env, "sync", "--dest", missing, env.archive)
	require.Error(t, err, out)
	assert.Contains(t, out, "Failed:     1")

	out, err = execute(t, env, "status", "--failed")
	require.NoError(t, err)
	assert.Contains(t, out, "lib/armeabi/libfoo.so")
	assert.Contains(t, out, "Attempts:  1")
}

func TestSyncMultipleArchives(t *testing.T) {
	env := newTestEnv(t, nil)
	second := testutil.WriteZip(t, t.TempDir(), "other.apk", []testutil.ZipMember{
		{Name: "lib/armeabi/libbar.so", Body: []byte("bar")},
	})

	out, err := execute(t, env, "sync", env.archive, second)
	require.NoError(t, err, out)
	assert.Contains(t, out, "=== SYNC SUMMARY ===")
	assert.Contains(t, out, "Total Copied:  2")
}

func TestSyncUsesConfiguredArchives(t *testing.T) {
	env := newTestEnv(t, nil)
	archivePath := env.archive

	_, err := execute(t, env, "config", "set", "sync.archives", archivePath)
	require.NoError(t, err)

	out, err := execute(t, env, "sync")
	require.NoError(t, err, out)
	assert.Contains(t, out, archivePath)
}

// TestRelativeArchivesRecordedAbsolute verifies a relative archive path is
// recorded under its absolute form, so later lookups agree with the server
// and the watcher.
func TestRelativeArchivesRecordedAbsolute(t *testing.T) {
	env := newTestEnv(t, nil)
	t.Chdir(env.dir)

	_, err := execute(t, env, "config", "set", "sync.archives", "plugin.apk")
	require.NoError(t, err)

	out, err := execute(t, env, "sync")
	require.NoError(t, err, out)
	assert.Contains(t, out, env.archive)

	out, err = execute(t, env, "status", "--archive", "plugin.apk")
	require.NoError(t, err)
	assert.Contains(t, out, "lib/armeabi/libfoo.so")
	assert.Contains(t, out, env.archive)
	assert.NotContains(t, out, "No sync runs recorded")
}

func TestArchivesFromArgs(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	orig := globalCfg
	t.Cleanup(func() { globalCfg = orig })
	globalCfg = config.DefaultConfig()

	_, err := archivesFromArgs(nil)
	assert.Error(t, err, "no archives anywhere")

	globalCfg.Sync.Archives = []string{"a.apk", "/abs/b.apk"}
	got, err := archivesFromArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.apk"), "/abs/b.apk"}, got)

	got, err = archivesFromArgs([]string{"sub/../c.apk"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "c.apk")}, got)
}

func TestForgetAll(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := execute(t, env, "sync", env.archive)
	require.NoError(t, err)

	out, err := execute(t, env, "forget", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Forgot 1 entries")

	_, err = execute(t, env, "forget", "lib/armeabi/libfoo.so")
	assert.Error(t, err, "forgetting an unrecorded entry")
	_, err = execute(t, env, "forget")
	assert.Error(t, err, "no entries and no --all")
}

func TestArchCmd(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Sync.Arch = "" })
	cpuinfo := filepath.Join(env.dir, "cpuinfo")
	require.NoError(t, os.WriteFile(cpuinfo, []byte("Processor\t: MIPS 74Kc V4.12\n"), 0o644))

	out, err := execute(t, env, "arch")
	require.NoError(t, err)
	assert.Contains(t, out, "Capability: MIPS 74Kc V4.12")
	assert.Contains(t, out, "Detected:   mips")
	assert.Contains(t, out, "Token:      mips")
	assert.NotContains(t, out, "Configured:", "no override configured")

	_, err = execute(t, env, "config", "set", "sync.arch", "x86")
	require.NoError(t, err)
	out, err = execute(t, env, "arch")
	require.NoError(t, err)
	assert.Contains(t, out, "Configured: x86")
	assert.Contains(t, out, "Token:      x86")
}

func TestConfigShowAndSet(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := execute(t, env, "config", "set", "sync.workers", "7")
	require.NoError(t, err)
	_, err = execute(t, env, "config", "set", "no.such.key", "1")
	assert.Error(t, err, "unknown key")

	cfg, err := config.Load(env.configPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.Workers)

	out, err := execute(t, env, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "workers: 7")
	assert.Contains(t, out, "dest_dir: "+env.destDir)
}
