package glob_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodtune/pac-router/internal/glob"
)

func TestCompileEmpty(t *testing.T) {
	_, err := glob.Compile("")
	require.Error(t, err)

	var ipe *glob.InvalidPatternError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, "", ipe.Pattern)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		subject string
		want    bool
	}{
		{"literal equal", "ipify.org", "ipify.org", true},
		{"literal differs", "ipify.org", "ipify.org.", false},
		{"literal is anchored", "ipify.org", "api.ipify.org", false},
		{"literal case sensitive", "ipify.org", "IPIFY.org", false},
		{"star matches empty", "*", "", true},
		{"star matches anything", "*", "https://x/y", true},
		{"url prefix", "https://ipify.org/*", "https://ipify.org/api/test", true},
		{"url prefix bare slash", "https://ipify.org/*", "https://ipify.org/", true},
		{"url prefix wrong scheme", "https://ipify.org/*", "http://ipify.org/", false},
		{"host suffix", "*.onprem.securebrowsing.cloud/*", "https://portal.onprem.securebrowsing.cloud/login", true},
		{"host suffix needs dot", "*.onprem.securebrowsing.cloud/*", "https://onprem.securebrowsing.cloud/login", false},
		{"broad org", "*.org/*", "https://ipify.org/api", true},
		{"middle wildcard", "a*b*c", "aXXbYYc", true},
		{"middle wildcard order", "a*b*c", "acb", false},
		{"no overlap of ends", "ab*ba", "aba", false},
		{"ends overlap allowed by star", "ab*ba", "abba", true},
		{"collapsed stars", "a**b", "ab", true},
		{"backtrack needed", "*ab", "aab", true},
		{"question mark is literal", "a?c", "abc", false},
		{"question mark literal match", "a?c", "a?c", true},
		{"brackets are literal", "[ab]", "[ab]", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := glob.Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.subject))
		})
	}
}

func TestPrefixAndLiteral(t *testing.T) {
	p := glob.MustCompile("https://ipify.org/*")
	assert.Equal(t, "https://ipify.org/", p.Prefix())
	assert.False(t, p.Literal())

	p = glob.MustCompile("*.org/*")
	assert.Equal(t, "", p.Prefix())

	p = glob.MustCompile("exact.example")
	assert.True(t, p.Literal())
	assert.Equal(t, "exact.example", p.Prefix())
	assert.Equal(t, "exact.example", p.String())
}

func TestMustCompilePanics(t *testing.T) {
	assert.Panics(t, func() { glob.MustCompile("") })
}

func TestMatchHelper(t *testing.T) {
	ok, err := glob.Match("*.example/*", "https://a.example/")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = glob.Match("", "x")
	assert.Error(t, err)
}

func TestLiteralPatternsMatchOnlyThemselves(t *testing.T) {
	for _, p := range words("ab", 4) {
		if p == "" {
			continue
		}
		compiled := glob.MustCompile(p)
		for _, s := range words("ab", 5) {
			assert.Equal(t, s == p, compiled.Match(s), "pattern %q subject %q", p, s)
		}
	}
}

func TestInfixProperty(t *testing.T) {
	for _, a := range words("ab", 2) {
		for _, b := range words("ab", 2) {
			p := glob.MustCompile(a + "*" + b)
			for _, x := range words("ab", 3) {
				assert.True(t, p.Match(a+x+b), "pattern %q subject %q", p, a+x+b)
			}
			for _, s := range words("ab", 4) {
				want := len(s) >= len(a)+len(b) && strings.HasPrefix(s, a) && strings.HasSuffix(s, b)
				assert.Equal(t, want, p.Match(s), "pattern %q subject %q", p, s)
			}
		}
	}
}

// Exhaustive comparison against a naive recursive matcher over a small
// alphabet.
func TestAgainstReference(t *testing.T) {
	for _, p := range words("ab*", 5) {
		if p == "" {
			continue
		}
		compiled := glob.MustCompile(p)
		for _, s := range words("ab", 6) {
			assert.Equal(t, reference(p, s), compiled.Match(s), "pattern %q subject %q", p, s)
		}
	}
}

func BenchmarkMatch(b *testing.B) {
	p := glob.MustCompile("*.onprem.securebrowsing.cloud/*")
	s := "https://portal.onprem.securebrowsing.cloud/login?next=/home"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p.Match(s)
	}
}

func reference(p, s string) bool {
	if p == "" {
		return s == ""
	}
	if p[0] == '*' {
		for i := 0; i <= len(s); i++ {
			if reference(p[1:], s[i:]) {
				return true
			}
		}
		return false
	}
	return s != "" && s[0] == p[0] && reference(p[1:], s[1:])
}

// words returns every string over alphabet up to length n.
func words(alphabet string, n int) []string {
	out := []string{""}
	prev := []string{""}
	for l := 1; l <= n; l++ {
		next := make([]string, 0, len(prev)*len(alphabet))
		for _, w := range prev {
			for _, c := range alphabet {
				next = append(next, w+string(c))
			}
		}
		out = append(out, next...)
		prev = next
	}
	return out
}
