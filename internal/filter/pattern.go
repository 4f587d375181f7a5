package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// compiledPattern matches archive paths against one glob.
//
// Patterns follow rsync conventions: a leading "/" or any inner "/" anchors
// the pattern at the archive root, otherwise it matches a trailing run of
// path components. A trailing "/" restricts it to directories.
type compiledPattern struct {
	re       *regexp.Regexp
	original string
	anchored bool
	dirOnly  bool
}

func compilePattern(pattern string) (*compiledPattern, error) {
	if pattern == "" || pattern == "/" {
		return nil, fmt.Errorf("empty pattern")
	}
	cp := &compiledPattern{original: pattern}
	body := pattern
	if strings.HasSuffix(body, "/") && !strings.HasSuffix(body, `\/`) {
		cp.dirOnly = true
		body = strings.TrimSuffix(body, "/")
	}
	if strings.HasPrefix(body, "/") {
		cp.anchored = true
		body = body[1:]
	} else {
		cp.anchored = strings.Contains(body, "/")
	}

	prefix := "(^|/)"
	if cp.anchored {
		prefix = "^"
	}
	re, err := regexp.Compile(prefix + globToRegex(body) + "$")
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	cp.re = re
	return cp, nil
}

// match reports whether relPath, or any directory above it, matches. An
// archive lists each object separately, so excluding a directory has to
// reach the entries stored beneath it.
func (cp *compiledPattern) match(relPath string, isDir bool) bool {
	if (!cp.dirOnly || isDir) && cp.re.MatchString(relPath) {
		return true
	}
	for i := strings.LastIndexByte(relPath, '/'); i > 0; i = strings.LastIndexByte(relPath[:i], '/') {
		if cp.re.MatchString(relPath[:i]) {
			return true
		}
	}
	return false
}

// globToRegex translates glob syntax: "*" stays within one component, "**"
// crosses components, "?" is one non-slash character, "[...]" is a class
// ("!" or "^" negates) and a backslash makes the next character literal.
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '\\':
			if i+1 < len(glob) {
				i++
				c = glob[i]
			}
			b.WriteString(regexp.QuoteMeta(string(c)))
		case '*':
			if !strings.HasPrefix(glob[i:], "**") {
				b.WriteString("[^/]*")
				continue
			}
			if strings.HasPrefix(glob[i:], "**/") {
				b.WriteString("(.*/)?")
				i += 2
			} else {
				b.WriteString(".*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := classEnd(glob, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			cls := glob[i+1 : end]
			if strings.HasPrefix(cls, "!") {
				cls = "^" + cls[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(cls, `\`, `\\`) + "]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

// classEnd returns the index of the "]" closing the class opened at
// glob[open], or -1. A "]" right after the opening (or after a negation)
// is a literal member.
func classEnd(glob string, open int) int {
	j := open + 1
	if j < len(glob) && (glob[j] == '!' || glob[j] == '^') {
		j++
	}
	if j < len(glob) && glob[j] == ']' {
		j++
	}
	for ; j < len(glob); j++ {
		if glob[j] == ']' {
			return j
		}
	}
	return -1
}
