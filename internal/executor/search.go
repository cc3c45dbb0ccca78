// ABOUTME: Directory listing, glob search, and content grep
// ABOUTME: Search results are capped so a match-everything query stays bounded

package executor

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	maxGlobMatches = 100
	maxGrepResults = 100
	maxGrepLineLen = 200
)

// skipDirs are directory names grep never descends into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".git":         true,
}

// ListDir lists directory entries sorted by name.
func (e *Executor) ListDir(path string) map[string]any {
	full := e.resolvePath(path)

	info, err := os.Stat(full)
	if err != nil {
		return failure("Directory not found: " + path)
	}
	if !info.IsDir() {
		return failure("Not a directory: " + path)
	}

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		return failure(err.Error())
	}

	entries := make([]map[string]any, 0, len(dirEntries))
	for _, entry := range dirEntries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}

		kind := "file"
		var size any
		if entry.IsDir() {
			kind = "dir"
		} else {
			size = fi.Size()
		}
		entries = append(entries, map[string]any{
			"name":     entry.Name(),
			"type":     kind,
			"size":     size,
			"modified": float64(fi.ModTime().UnixNano()) / 1e9,
		})
	}

	return map[string]any{
		"success": true,
		"path":    full,
		"entries": entries,
	}
}

// Glob finds files matching a pattern under path, newest first, capped at
// maxGlobMatches. Patterns support ** for recursive matching.
func (e *Executor) Glob(pattern, path string) map[string]any {
	searchPath := e.resolvePath(path)

	matches, err := doublestar.FilepathGlob(filepath.Join(searchPath, pattern))
	if err != nil {
		return failure(err.Error())
	}

	sort.Slice(matches, func(i, j int) bool {
		return modTime(matches[i]) > modTime(matches[j])
	})
	if len(matches) > maxGlobMatches {
		matches = matches[:maxGlobMatches]
	}

	return map[string]any{
		"success": true,
		"pattern": pattern,
		"path":    searchPath,
		"matches": matches,
	}
}

func modTime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

// Grep searches file contents for a case-insensitive regexp. filePattern
// filters filenames (shell style, default *); hidden directories and the
// usual dependency trees are skipped.
func (e *Executor) Grep(pattern, path, filePattern string) map[string]any {
	searchPath := e.resolvePath(path)
	if filePattern == "" {
		filePattern = "*"
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return failure(err.Error())
	}

	results := make([]map[string]any, 0)

	info, err := os.Stat(searchPath)
	if err != nil {
		return failure(err.Error())
	}

	if !info.IsDir() {
		grepFile(searchPath, re, &results)
	} else {
		_ = filepath.WalkDir(searchPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p == searchPath {
					return nil
				}
				name := d.Name()
				if strings.HasPrefix(name, ".") || skipDirs[name] {
					return filepath.SkipDir
				}
				return nil
			}
			if ok, _ := filepath.Match(filePattern, d.Name()); !ok {
				return nil
			}
			if grepFile(p, re, &results) {
				return filepath.SkipAll
			}
			return nil
		})
	}

	return map[string]any{
		"success": true,
		"pattern": pattern,
		"path":    searchPath,
		"results": results,
	}
}

// grepFile appends matches from one file, returning true once the global
// cap is reached. Unreadable files are skipped silently.
func grepFile(path string, re *regexp.Regexp, results *[]map[string]any) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}

		content := strings.TrimRight(line, " \t\r\n")
		if len(content) > maxGrepLineLen {
			content = content[:maxGrepLineLen]
		}
		*results = append(*results, map[string]any{
			"file":    path,
			"line":    lineNum,
			"content": content,
		})
		if len(*results) >= maxGrepResults {
			return true
		}
	}
	return false
}
