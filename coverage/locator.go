package coverage

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Locate expands a slash-separated glob pattern under root and returns the
// matching file paths relative to root, in lexical order. The pattern is
// evaluated lazily at call time, so artifacts written earlier in the run are
// picked up. A "**" segment matches any number of directories, including
// none; other segments use path.Match syntax and never cross a separator.
//
// Zero matches is a valid result, not an error. A missing root behaves like
// an empty directory.
func Locate(root, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("glob pattern cannot be empty")
	}
	segments := strings.Split(pattern, "/")
	if err := validateSegments(pattern, segments); err != nil {
		return nil, err
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matchSegments(segments, strings.Split(rel, "/")) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return matches, nil
}

func validateSegments(pattern string, segments []string) error {
	for _, seg := range segments {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, "probe"); err != nil {
			return fmt.Errorf("bad glob pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// matchSegments matches pattern segments against path segments, with "**"
// consuming zero or more of them.
func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(pattern[1:], name) {
			return true
		}
		if len(name) == 0 {
			return false
		}
		return matchSegments(pattern, name[1:])
	}
	if len(name) == 0 {
		return false
	}
	if ok, _ := path.Match(pattern[0], name[0]); !ok {
		return false
	}
	return matchSegments(pattern[1:], name[1:])
}
