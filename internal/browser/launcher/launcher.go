// internal/browser/launcher/launcher.go
package launcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosetname/internal/browser"
	"github.com/xkilldash9x/autosetname/internal/browser/session"
	"github.com/xkilldash9x/autosetname/internal/config"
)

// Package level seams so tests can fake the host.
var (
	osStat   = os.Stat
	osGetenv = os.Getenv
	hostOS   = runtime.GOOS
)

// edgeSuffix is the install-relative path of msedge.exe under each Windows root.
var edgeSuffix = []string{"Microsoft", "Edge", "Application", "msedge.exe"}

// DefaultCandidates lists the well-known Edge locations for goos, in probe order.
// Windows roots whose environment variable is unset are skipped.
func DefaultCandidates(goos string, getenv func(string) string) []string {
	switch goos {
	case "windows":
		var out []string
		for _, env := range []string{"LOCALAPPDATA", "PROGRAMFILES(X86)", "PROGRAMFILES"} {
			root := getenv(env)
			if root == "" {
				continue
			}
			out = append(out, filepath.Join(append([]string{root}, edgeSuffix...)...))
		}
		return out
	case "darwin":
		return []string{
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		}
	default:
		return []string{
			"/usr/bin/microsoft-edge",
			"/usr/bin/microsoft-edge-stable",
			"/opt/microsoft/msedge/msedge",
		}
	}
}

// ResolveExecutable picks the browser binary to launch. A configured path wins when
// it exists; otherwise the configured fallbacks and then the built-in list are probed
// in order. The error wraps browser.ErrNoBrowser and names every path checked.
func ResolveExecutable(cfg config.BrowserConfig, logger *zap.Logger) (string, error) {
	var checked []string

	if p := cfg.ExecutablePath; p != "" {
		if expanded, err := homedir.Expand(p); err == nil {
			p = expanded
		}
		if isFile(p) {
			logger.Debug("Using configured browser executable.", zap.String("path", p))
			return p, nil
		}
		logger.Warn("Configured browser executable not found, probing default locations.", zap.String("path", p))
		checked = append(checked, p)
	}

	candidates := append(append([]string{}, cfg.FallbackPaths...), DefaultCandidates(hostOS, osGetenv)...)
	for _, c := range candidates {
		if isFile(c) {
			logger.Info("Found browser executable.", zap.String("path", c))
			return c, nil
		}
		checked = append(checked, c)
	}

	return "", fmt.Errorf("%w (checked: %s)", browser.ErrNoBrowser, strings.Join(checked, ", "))
}

func isFile(path string) bool {
	info, err := osStat(path)
	return err == nil && !info.IsDir()
}

// BuildAllocatorOptions turns the browser config into chromedp allocator options.
func BuildAllocatorOptions(cfg config.BrowserConfig, execPath string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(execPath),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("hide-scrollbars", cfg.Headless),
		chromedp.Flag("mute-audio", cfg.Headless),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.DisableGPU)
	}
	// chromedp already gives every launch a throw-away user data dir; the private
	// window flag additionally keeps the session off any persisted profile.
	if cfg.InPrivate {
		opts = append(opts, chromedp.Flag(privateFlag(execPath), true))
	}
	if hostOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	for _, arg := range cfg.Args {
		name, value := parseArg(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// privateFlag returns the private-browsing switch understood by the binary.
func privateFlag(execPath string) string {
	base := strings.ToLower(filepath.Base(execPath))
	if strings.Contains(base, "edge") {
		return "inprivate"
	}
	return "incognito"
}

// parseArg splits "--name=value" or "--name" into a chromedp flag.
func parseArg(arg string) (string, interface{}) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}

// Launch resolves the executable, starts a private browser and verifies that a tab
// is attached. There are no retries: any failure is returned to the caller and the
// partially started process is torn down.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*session.Session, error) {
	logger = logger.Named("launcher")

	execPath, err := ResolveExecutable(cfg, logger)
	if err != nil {
		return nil, err
	}

	// The process is rooted on a detached context so that an interrupted run can
	// still shut it down through Session.Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(session.Detach(ctx), BuildAllocatorOptions(cfg, execPath)...)
	sugar := logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	logger.Info("Launching browser.",
		zap.String("path", execPath),
		zap.Bool("headless", cfg.Headless),
		zap.Bool("private", cfg.InPrivate),
	)

	// The first Run starts the process. It must not receive a deadline-bound
	// context or the browser would die when the deadline fires.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	timer := time.NewTimer(cfg.LaunchTimeout)
	defer timer.Stop()

	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %s", cfg.LaunchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser %s: %w", execPath, err)
	}

	logger.Info("Browser launched.")
	return session.New(tabCtx, tabCancel, allocCancel, logger, session.Options{
		ActionRate:    cfg.ActionRate,
		ActionTimeout: cfg.ActionTimeout,
	}), nil
}
