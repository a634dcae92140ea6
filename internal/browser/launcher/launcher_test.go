// internal/browser/launcher/launcher_test.go
package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autosetname/internal/browser"
	"github.com/xkilldash9x/autosetname/internal/config"
)

// withHost swaps the package seams for the duration of a test.
func withHost(t *testing.T, goos string, env map[string]string) {
	t.Helper()
	origOS, origEnv := hostOS, osGetenv
	hostOS = goos
	osGetenv = func(k string) string { return env[k] }
	t.Cleanup(func() {
		hostOS, osGetenv = origOS, origEnv
	})
}

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestDefaultCandidates_Windows(t *testing.T) {
	env := map[string]string{
		"LOCALAPPDATA":      `C:\Users\me\AppData\Local`,
		"PROGRAMFILES(X86)": `C:\Program Files (x86)`,
		"PROGRAMFILES":      `C:\Program Files`,
	}
	got := DefaultCandidates("windows", func(k string) string { return env[k] })

	require.Len(t, got, 3)
	assert.Equal(t, filepath.Join(env["LOCALAPPDATA"], "Microsoft", "Edge", "Application", "msedge.exe"), got[0])
	assert.Equal(t, filepath.Join(env["PROGRAMFILES(X86)"], "Microsoft", "Edge", "Application", "msedge.exe"), got[1])
	assert.Equal(t, filepath.Join(env["PROGRAMFILES"], "Microsoft", "Edge", "Application", "msedge.exe"), got[2])
}

func TestDefaultCandidates_SkipsUnsetRoots(t *testing.T) {
	got := DefaultCandidates("windows", func(k string) string {
		if k == "PROGRAMFILES" {
			return `C:\Program Files`
		}
		return ""
	})
	assert.Len(t, got, 1)
}

func TestDefaultCandidates_OtherPlatforms(t *testing.T) {
	assert.NotEmpty(t, DefaultCandidates("linux", os.Getenv))
	assert.NotEmpty(t, DefaultCandidates("darwin", os.Getenv))
}

func TestResolveExecutable(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("ConfiguredPathWins", func(t *testing.T) {
		dir := t.TempDir()
		withHost(t, "windows", map[string]string{"LOCALAPPDATA": dir})
		touch(t, filepath.Join(dir, "Microsoft", "Edge", "Application", "msedge.exe"))
		configured := touch(t, filepath.Join(dir, "custom", "msedge.exe"))

		got, err := ResolveExecutable(config.BrowserConfig{ExecutablePath: configured}, logger)
		require.NoError(t, err)
		assert.Equal(t, configured, got)
	})

	t.Run("MissingConfiguredPathFallsBackInOrder", func(t *testing.T) {
		local, x86, pf := t.TempDir(), t.TempDir(), t.TempDir()
		withHost(t, "windows", map[string]string{
			"LOCALAPPDATA":      local,
			"PROGRAMFILES(X86)": x86,
			"PROGRAMFILES":      pf,
		})
		// Only the second and third roots have Edge installed.
		want := touch(t, filepath.Join(x86, "Microsoft", "Edge", "Application", "msedge.exe"))
		touch(t, filepath.Join(pf, "Microsoft", "Edge", "Application", "msedge.exe"))

		got, err := ResolveExecutable(config.BrowserConfig{ExecutablePath: filepath.Join(local, "nope.exe")}, logger)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("ConfiguredFallbacksBeforeBuiltIns", func(t *testing.T) {
		dir := t.TempDir()
		withHost(t, "windows", map[string]string{"PROGRAMFILES": dir})
		touch(t, filepath.Join(dir, "Microsoft", "Edge", "Application", "msedge.exe"))
		extra := touch(t, filepath.Join(dir, "portable", "msedge.exe"))

		got, err := ResolveExecutable(config.BrowserConfig{FallbackPaths: []string{extra}}, logger)
		require.NoError(t, err)
		assert.Equal(t, extra, got)
	})

	t.Run("DirectoryIsNotAnExecutable", func(t *testing.T) {
		dir := t.TempDir()
		withHost(t, "windows", nil)

		_, err := ResolveExecutable(config.BrowserConfig{ExecutablePath: dir}, logger)
		assert.ErrorIs(t, err, browser.ErrNoBrowser)
	})

	t.Run("NothingFound", func(t *testing.T) {
		dir := t.TempDir()
		withHost(t, "windows", map[string]string{"LOCALAPPDATA": dir})

		_, err := ResolveExecutable(config.BrowserConfig{ExecutablePath: filepath.Join(dir, "missing.exe")}, logger)
		require.ErrorIs(t, err, browser.ErrNoBrowser)
		assert.Contains(t, err.Error(), "missing.exe")
		assert.Contains(t, err.Error(), "msedge.exe")
	})
}

func TestLaunch_NoBrowserFailsBeforeStarting(t *testing.T) {
	withHost(t, "windows", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := Launch(ctx, config.BrowserConfig{
		ExecutablePath: filepath.Join(t.TempDir(), "msedge.exe"),
		LaunchTimeout:  time.Second,
	}, zaptest.NewLogger(t))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, browser.ErrNoBrowser)
}

func TestBuildAllocatorOptions(t *testing.T) {
	base := config.BrowserConfig{}
	plain := BuildAllocatorOptions(base, "/usr/bin/microsoft-edge")

	headless := base
	headless.Headless = true
	assert.Greater(t, len(BuildAllocatorOptions(headless, "/usr/bin/microsoft-edge")), len(plain), "headless adds GPU flags")

	private := base
	private.InPrivate = true
	assert.Len(t, BuildAllocatorOptions(private, "/usr/bin/microsoft-edge"), len(plain)+1)

	withArgs := base
	withArgs.Args = []string{"--lang=zh-CN", "--start-maximized", "  ", "--"}
	assert.Len(t, BuildAllocatorOptions(withArgs, "/usr/bin/microsoft-edge"), len(plain)+2, "blank args are ignored")
}

func TestPrivateFlag(t *testing.T) {
	assert.Equal(t, "inprivate", privateFlag(`C:\Program Files\Microsoft\Edge\Application\msedge.exe`))
	assert.Equal(t, "inprivate", privateFlag("/usr/bin/microsoft-edge"))
	assert.Equal(t, "incognito", privateFlag("/usr/bin/google-chrome"))
}

func TestParseArg(t *testing.T) {
	name, value := parseArg("--window-size=1280,800")
	assert.Equal(t, "window-size", name)
	assert.Equal(t, "1280,800", value)

	name, value = parseArg("--start-maximized")
	assert.Equal(t, "start-maximized", name)
	assert.Equal(t, true, value)

	name, _ = parseArg("---")
	assert.Empty(t, name)
}
