// Package glob compiles shell-style patterns in which '*' matches any run
// of characters, including none. Every other byte matches itself. Matching
// is case-sensitive and anchored at both ends, as shExpMatch is in PAC files.
package glob

import (
	"fmt"
	"strings"
)

// Wildcard is the only metacharacter understood by the compiler.
const Wildcard = '*'

// InvalidPatternError reports a pattern that cannot be compiled.
type InvalidPatternError struct {
	Pattern string
	Reason  string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

// Pattern is a compiled glob. It is immutable and safe for concurrent use.
type Pattern struct {
	raw string
	// segments are the literal runs between wildcards. A pattern without
	// any wildcard has exactly one segment.
	segments []string
	literal  bool
	minLen   int
}

// Compile turns raw into a Pattern.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, &InvalidPatternError{Pattern: raw, Reason: "pattern is empty"}
	}

	p := &Pattern{raw: raw}
	if strings.IndexByte(raw, Wildcard) < 0 {
		p.segments = []string{raw}
		p.literal = true
		p.minLen = len(raw)
		return p, nil
	}

	// Split keeps empty leading/trailing segments, which encode whether the
	// pattern is anchored by a literal at either end.
	parts := strings.Split(raw, string(Wildcard))
	p.segments = make([]string, 0, len(parts))
	for i, seg := range parts {
		// Runs of '*' collapse into one; only the ends may stay empty.
		if seg == "" && i != 0 && i != len(parts)-1 {
			continue
		}
		p.segments = append(p.segments, seg)
		p.minLen += len(seg)
	}
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether s matches the whole pattern.
func Match(pattern, s string) (bool, error) {
	p, err := Compile(pattern)
	if err != nil {
		return false, err
	}
	return p.Match(s), nil
}

// String returns the source text of the pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Literal reports whether the pattern contains no wildcard.
func (p *Pattern) Literal() bool {
	return p.literal
}

// Prefix returns the literal text every match must start with.
func (p *Pattern) Prefix() string {
	return p.segments[0]
}

// Match reports whether s matches the pattern in full.
func (p *Pattern) Match(s string) bool {
	if p.literal {
		return s == p.raw
	}
	if len(s) < p.minLen {
		return false
	}

	head := p.segments[0]
	tail := p.segments[len(p.segments)-1]
	if !strings.HasPrefix(s, head) || !strings.HasSuffix(s, tail) {
		return false
	}

	// The head and tail are pinned; the middle segments float between them
	// and taking the leftmost occurrence of each never loses a match.
	rest := s[len(head) : len(s)-len(tail)]
	for _, seg := range p.segments[1 : len(p.segments)-1] {
		i := strings.Index(rest, seg)
		if i < 0 {
			return false
		}
		rest = rest[i+len(seg):]
	}
	return true
}
