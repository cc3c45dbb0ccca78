// ABOUTME: File operations: read with line numbers, write, targeted edit, delete
// ABOUTME: Edits require a unique match unless replace_all is set

package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// splitLines splits content the way a line-by-line reader would: each
// element keeps its trailing newline, and a final newline does not produce
// an empty trailing element.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// ReadFile returns a window of the file with 1-based line numbers, the way
// code review tools render source.
func (e *Executor) ReadFile(path string, offset, limit int) map[string]any {
	full := e.resolvePath(path)

	info, err := os.Stat(full)
	if err != nil {
		return failure("File not found: " + path)
	}
	if info.IsDir() {
		return failure("Not a file: " + path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return failure(err.Error())
	}

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	lines := splitLines(string(data))
	start := offset
	if start > len(lines) {
		start = len(lines)
	}
	end := start + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i, line := range lines[start:end] {
		fmt.Fprintf(&b, "%6d\t%s", start+i+1, line)
	}

	return map[string]any{
		"success":     true,
		"content":     b.String(),
		"path":        full,
		"total_lines": len(lines),
		"offset":      offset,
		"limit":       limit,
	}
}

// WriteFile creates or replaces a file, creating parent directories as needed.
func (e *Executor) WriteFile(path, content string) map[string]any {
	full := e.resolvePath(path)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return failure(err.Error())
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return failure(err.Error())
	}

	return map[string]any{
		"success":       true,
		"path":          full,
		"bytes_written": len(content),
	}
}

// EditFile replaces oldString with newString. Without replaceAll the match
// must be unique, so an ambiguous edit cannot silently change the wrong
// occurrence.
func (e *Executor) EditFile(path, oldString, newString string, replaceAll bool) map[string]any {
	full := e.resolvePath(path)

	info, err := os.Stat(full)
	if err != nil {
		return failure("File not found: " + path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return failure(err.Error())
	}
	content := string(data)

	count := strings.Count(content, oldString)
	if count == 0 {
		return failure("old_string not found in file")
	}

	var newContent string
	replacements := count
	if replaceAll {
		newContent = strings.ReplaceAll(content, oldString, newString)
	} else {
		if count > 1 {
			return failure(fmt.Sprintf("old_string found %d times. Use replace_all=True or provide more context.", count))
		}
		newContent = strings.Replace(content, oldString, newString, 1)
		replacements = 1
	}

	if err := os.WriteFile(full, []byte(newContent), info.Mode().Perm()); err != nil {
		return failure(err.Error())
	}

	return map[string]any{
		"success":      true,
		"path":         full,
		"replacements": replacements,
	}
}

// DeleteFile removes a single file. Directories are refused so a stray
// path cannot take a whole tree with it.
func (e *Executor) DeleteFile(path string) map[string]any {
	full := e.resolvePath(path)

	info, err := os.Stat(full)
	if err != nil {
		return failure("File not found: " + path)
	}
	if info.IsDir() {
		return failure("Cannot delete directory with delete_file. Use bash rm -r.")
	}

	if err := os.Remove(full); err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true, "path": full}
}
