package policy

import (
	"path"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segAny                 // *
	segAnyDepth            // **
	segGlob
)

type segment struct {
	kind segmentKind
	text string
	glob glob.Glob
}

func (s segment) matchOne(part string) bool {
	switch s.kind {
	case segLiteral:
		return s.text == part
	case segAny:
		return part != ""
	case segGlob:
		return s.glob.Match(part)
	default:
		return false
	}
}

// Pattern is a compiled path pattern.
type Pattern struct {
	raw      string
	segments []segment
}

// String returns the pattern as configured.
func (p Pattern) String() string {
	return p.raw
}

// CompilePattern parses raw into a [Pattern]. raw must be an absolute path
// pattern; "**" must occupy a whole segment.
func CompilePattern(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, oops.In("policy").
			Code("POLICY_INVALID_PATTERN").
			With("pattern", raw).
			Wrapf(ErrInvalidPattern, "pattern must start with '/'")
	}

	parts := splitPath(raw)
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		switch {
		case part == "**":
			// consecutive ** collapse into one
			if n := len(segments); n > 0 && segments[n-1].kind == segAnyDepth {
				continue
			}
			segments = append(segments, segment{kind: segAnyDepth, text: part})
		case part == "*":
			segments = append(segments, segment{kind: segAny, text: part})
		case strings.Contains(part, "**"):
			return Pattern{}, oops.In("policy").
				Code("POLICY_INVALID_PATTERN").
				With("pattern", raw).
				With("segment", part).
				Wrapf(ErrInvalidPattern, "'**' must be a whole path segment")
		case strings.ContainsAny(part, "*?[{"):
			g, err := glob.Compile(part, '/')
			if err != nil {
				return Pattern{}, oops.In("policy").
					Code("POLICY_INVALID_PATTERN").
					With("pattern", raw).
					With("segment", part).
					Wrapf(ErrInvalidPattern, "invalid glob segment: %v", err)
			}
			segments = append(segments, segment{kind: segGlob, text: part, glob: g})
		default:
			segments = append(segments, segment{kind: segLiteral, text: part})
		}
	}

	return Pattern{raw: raw, segments: segments}, nil
}

// MustCompilePattern is like [CompilePattern] but panics on error. It is
// intended for patterns fixed at compile time.
func MustCompilePattern(raw string) Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic("policy: " + err.Error())
	}
	return p
}

// Match reports whether the normalized form of requestPath matches p.
func (p Pattern) Match(requestPath string) bool {
	return matchSegments(p.segments, splitPath(NormalizePath(requestPath)))
}

func matchSegments(pattern []segment, parts []string) bool {
	for len(pattern) > 0 {
		seg := pattern[0]
		if seg.kind == segAnyDepth {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := len(parts); i >= 0; i-- {
				if matchSegments(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 || !seg.matchOne(parts[0]) {
			return false
		}
		pattern, parts = pattern[1:], parts[1:]
	}
	return len(parts) == 0
}

// covers reports whether every path matched by other is also matched by p.
// The check is conservative: false means "not provably covered".
func (p Pattern) covers(other Pattern) bool {
	return coversSegments(p.segments, other.segments)
}

func coversSegments(a, b []segment) bool {
	if len(a) == 0 {
		return len(b) == 0
	}
	if a[0].kind == segAnyDepth {
		if coversSegments(a[1:], b) {
			return true
		}
		return len(b) > 0 && coversSegments(a, b[1:])
	}
	if len(b) == 0 || b[0].kind == segAnyDepth {
		return false
	}

	switch a[0].kind {
	case segAny:
	case segLiteral:
		if b[0].kind != segLiteral || b[0].text != a[0].text {
			return false
		}
	case segGlob:
		switch b[0].kind {
		case segLiteral:
			if !a[0].glob.Match(b[0].text) {
				return false
			}
		case segGlob:
			if a[0].text != b[0].text {
				return false
			}
		default:
			return false
		}
	}
	return coversSegments(a[1:], b[1:])
}

// NormalizePath returns the canonical form of a request path: rooted, with
// dot segments resolved, duplicate and trailing slashes removed.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	raw := strings.Split(trimmed, "/")
	parts := raw[:0]
	for _, part := range raw {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
