package sandbox

import (
	"regexp"
	"strings"
)

// globToRegex converts a gitignore-style glob into an anchored regular
// expression: "**/" matches zero or more path segments, "**" matches
// anything including "/", "*" matches anything except "/", "?" matches a
// single non-"/" character, and "[...]" character classes pass through
// verbatim (escaped if unterminated). All other regex metacharacters are
// escaped.
func globToRegex(pattern string) string {
	var sb strings.Builder
	sb.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				// "**/" matches zero or more full path segments.
				if i+2 < len(runes) && runes[i+2] == '/' {
					sb.WriteString("(.*/)?")
					i += 2
					continue
				}
				// Bare "**" matches anything, including "/".
				sb.WriteString(".*")
				i++
				continue
			}
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '[':
			end := findClassEnd(runes, i)
			if end == -1 {
				// Unterminated class: escape the literal "[".
				sb.WriteString(`\[`)
				continue
			}
			sb.WriteString(string(runes[i : end+1]))
			i = end
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString("$")
	return sb.String()
}

// findClassEnd returns the index of the closing "]" for a "[" at start, or
// -1 if the class is never closed.
func findClassEnd(runes []rune, start int) int {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] == ']' {
			return i
		}
	}
	return -1
}

// compileGlob compiles pattern into a regexp ready to match a path
// relative to the sandbox root.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(globToRegex(pattern))
}

// staticPrefix returns the portion of a glob pattern before its first
// wildcard character, used to derive ancestor move-protection rules for a
// denied glob.
func staticPrefix(pattern string) string {
	idx := strings.IndexAny(pattern, "*?[")
	if idx == -1 {
		return pattern
	}
	prefix := pattern[:idx]
	if slash := strings.LastIndex(prefix, "/"); slash != -1 {
		return prefix[:slash]
	}
	return ""
}

// ancestorsOf returns every ancestor directory of path, from its immediate
// parent up to but not including "/".
func ancestorsOf(path string) []string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return nil
	}

	var out []string
	for {
		idx := strings.LastIndex(path, "/")
		if idx <= 0 {
			break
		}
		path = path[:idx]
		out = append(out, path)
	}
	return out
}
