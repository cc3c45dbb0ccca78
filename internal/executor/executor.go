// ABOUTME: Local command executor backing the desktop agent's operations
// ABOUTME: Owns the working directory; every operation resolves paths against it

package executor

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Defaults applied when a request omits the corresponding field.
const (
	DefaultReadLimit      = 2000
	DefaultBashTimeout    = 120 // seconds
	DefaultExecuteTimeout = 30  // seconds
)

// Executor runs operations against the local filesystem and shell. Results
// are flat maps so they marshal directly into the result frame; failures are
// reported in-band with success=false, never as Go errors, because every
// operation must answer its request.
type Executor struct {
	mu  sync.Mutex
	cwd string

	onCwdChange func(string)
	logger      *slog.Logger
}

// New creates an executor rooted at cwd. An empty cwd falls back to the
// user's home directory, then to the process working directory.
func New(cwd string, logger *slog.Logger) *Executor {
	if cwd == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cwd = home
		} else if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}
	return &Executor{cwd: cwd, logger: logger}
}

// OnCwdChange registers a hook invoked after every successful cd, so the
// agent can persist the new directory across restarts.
func (e *Executor) OnCwdChange(fn func(cwd string)) {
	e.onCwdChange = fn
}

// Cwd returns the current working directory.
func (e *Executor) Cwd() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cwd
}

// resolvePath expands ~ and resolves relative paths against the working
// directory.
func (e *Executor) resolvePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.Cwd(), path)
	}
	return filepath.Clean(path)
}

// ChangeDir switches the working directory and fires the persistence hook.
func (e *Executor) ChangeDir(path string) map[string]any {
	newCwd := e.resolvePath(path)

	info, err := os.Stat(newCwd)
	if err != nil {
		return failure("Directory not found: " + path)
	}
	if !info.IsDir() {
		return failure("Not a directory: " + path)
	}

	e.mu.Lock()
	e.cwd = newCwd
	e.mu.Unlock()

	e.logger.Info("working directory changed", "cwd", newCwd)
	if e.onCwdChange != nil {
		e.onCwdChange(newCwd)
	}
	return map[string]any{"success": true, "cwd": newCwd}
}

// failure builds the in-band error result shared by all operations.
func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}
