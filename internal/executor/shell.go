// ABOUTME: Shell command and code snippet execution with hard timeouts
// ABOUTME: Timed-out processes are killed; the timeout is reported in-band

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Bash runs a shell command in the working directory. A non-zero exit is not
// an error: the result carries both streams and the exit code, with success
// reflecting exit code zero.
func (e *Executor) Bash(ctx context.Context, command string, timeoutSec int) map[string]any {
	if timeoutSec <= 0 {
		timeoutSec = DefaultBashTimeout
	}
	cwd := e.Cwd()
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "bash", "-c", command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return failure(fmt.Sprintf("Command timed out after %d seconds", timeoutSec))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return failure(err.Error())
		}
	}

	return map[string]any{
		"success":     exitCode == 0,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"duration_ms": time.Since(start).Milliseconds(),
		"cwd":         cwd,
	}
}

// interpreterFor maps a language name to its runtime and source suffix.
func interpreterFor(language string) (interpreter, suffix string, ok bool) {
	switch strings.ToLower(language) {
	case "python":
		return "python3", ".py", true
	case "javascript":
		return "node", ".js", true
	case "bash", "shell":
		return "bash", ".sh", true
	default:
		return "", "", false
	}
}

// Execute writes a code snippet to a temp file and runs it with the
// language's interpreter. All failure modes report through the result
// fields so the client always sees stdout/stderr/exit_code.
func (e *Executor) Execute(ctx context.Context, code, language string, timeoutSec int) map[string]any {
	if timeoutSec <= 0 {
		timeoutSec = DefaultExecuteTimeout
	}
	start := time.Now()

	fail := func(stderrMsg string) map[string]any {
		return map[string]any{
			"success":     false,
			"stdout":      "",
			"stderr":      stderrMsg,
			"exit_code":   -1,
			"duration_ms": time.Since(start).Milliseconds(),
		}
	}

	interpreter, suffix, ok := interpreterFor(language)
	if !ok {
		return fail("Unsupported language: " + language)
	}

	tmp, err := os.CreateTemp("", "tether-exec-*"+suffix)
	if err != nil {
		return fail(err.Error())
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(code); err != nil {
		_ = tmp.Close()
		return fail(err.Error())
	}
	if err := tmp.Close(); err != nil {
		return fail(err.Error())
	}

	cctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, interpreter, tmpName)
	cmd.Dir = e.Cwd()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return fail(fmt.Sprintf("Execution timed out after %d seconds", timeoutSec))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if errors.Is(err, exec.ErrNotFound) {
			return fail("Runtime not found: " + err.Error())
		} else {
			return fail(err.Error())
		}
	}

	return map[string]any{
		"success":     exitCode == 0,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}
}
