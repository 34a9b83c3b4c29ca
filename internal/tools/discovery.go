package tools

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ignoreRules is a minimal .gitignore/.ollmignore matcher: each
// non-comment, non-blank line is a glob matched against both the full
// relative path and the path's base name, which covers the common
// patterns (file names, *.ext, dir/) without implementing the full
// gitignore grammar (negation, ** mid-pattern).
type ignoreRules struct {
	patterns []string
}

// loadIgnoreRules reads .gitignore and .ollmignore from root, if present,
// merging both (.ollmignore entries take the same precedence as
// .gitignore; neither overrides the other).
func loadIgnoreRules(root string) *ignoreRules {
	r := &ignoreRules{}
	for _, name := range []string{".gitignore", ".ollmignore"} {
		r.patterns = append(r.patterns, readIgnoreFile(filepath.Join(root, name))...)
	}
	return r
}

func readIgnoreFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.TrimSuffix(line, "/"))
	}
	return out
}

// Matches reports whether relPath (forward-slash separated, relative to
// the scan root) should be excluded.
func (r *ignoreRules) Matches(relPath string) bool {
	if r == nil {
		return false
	}
	base := filepath.Base(relPath)
	for _, p := range r.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, relPath); ok {
			return true
		}
		if strings.HasPrefix(relPath, p+"/") {
			return true
		}
	}
	return false
}

// alwaysSkipDirs are never descended into regardless of ignore files.
var alwaysSkipDirs = map[string]bool{
	".git": true,
}
