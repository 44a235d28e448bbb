package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var variableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// segmentKind classifies one pattern segment.
type segmentKind int

const (
	segmentGlob      segmentKind = iota // literal or single-segment glob
	segmentVar                          // {name}
	segmentRecursive                    // {name=**} or **
)

type patternSegment struct {
	kind segmentKind
	text string // glob text, or the variable name
}

// pathPattern is a compiled Match pattern.
type pathPattern struct {
	source   string
	glob     string
	segments []patternSegment
}

func compilePattern(pattern string) (*pathPattern, error) {
	trimmed := strings.Trim(pattern, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("match pattern cannot be empty")
	}

	p := &pathPattern{source: pattern}
	globParts := make([]string, 0)
	recursive := 0
	for _, raw := range strings.Split(trimmed, "/") {
		switch {
		case raw == "":
			return nil, fmt.Errorf("empty segment")
		case raw == "**":
			p.segments = append(p.segments, patternSegment{kind: segmentRecursive})
			globParts = append(globParts, "**")
			recursive++
		case strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}"):
			name := raw[1 : len(raw)-1]
			kind := segmentVar
			glob := "*"
			if strings.HasSuffix(name, "=**") {
				name = strings.TrimSuffix(name, "=**")
				kind = segmentRecursive
				glob = "**"
				recursive++
			}
			if !variableName.MatchString(name) {
				return nil, fmt.Errorf("invalid variable name '%s'", name)
			}
			p.segments = append(p.segments, patternSegment{kind: kind, text: name})
			globParts = append(globParts, glob)
		case strings.ContainsAny(raw, "{}"):
			return nil, fmt.Errorf("unbalanced braces in segment '%s'", raw)
		default:
			p.segments = append(p.segments, patternSegment{kind: segmentGlob, text: raw})
			globParts = append(globParts, raw)
		}
	}
	if recursive > 1 {
		return nil, fmt.Errorf("at most one recursive wildcard is allowed")
	}

	p.glob = strings.Join(globParts, "/")
	if !doublestar.ValidatePattern(p.glob) {
		return nil, fmt.Errorf("invalid glob '%s'", p.glob)
	}
	return p, nil
}

// match reports whether path matches and returns the bound variables.
func (p *pathPattern) match(path string) (map[string]string, bool) {
	path = strings.Trim(path, "/")
	ok, err := doublestar.Match(p.glob, path)
	if err != nil || !ok {
		return nil, false
	}
	return p.bind(strings.Split(path, "/")), true
}

// bind walks the pattern from the front up to the recursive segment and from the
// back after it, so variables on both sides of a ** are bound.
func (p *pathPattern) bind(parts []string) map[string]string {
	vars := make(map[string]string)

	front := 0
	for front < len(p.segments) && p.segments[front].kind != segmentRecursive {
		if front >= len(parts) {
			return vars
		}
		if p.segments[front].kind == segmentVar {
			vars[p.segments[front].text] = parts[front]
		}
		front++
	}
	if front == len(p.segments) {
		return vars
	}

	back := len(p.segments) - 1
	end := len(parts) - 1
	for back > front && end >= front {
		if p.segments[back].kind == segmentVar {
			vars[p.segments[back].text] = parts[end]
		}
		back--
		end--
	}
	if name := p.segments[front].text; name != "" && end >= front-1 {
		vars[name] = strings.Join(parts[front:end+1], "/")
	}
	return vars
}
