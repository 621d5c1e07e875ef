// Package pac bridges rule tables and proxy auto-config scripts: it renders
// a table as a PAC file and runs PAC files in a JavaScript VM to check that
// both give the same answers.
package pac

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/darren/gpac"

	"github.com/goodtune/pac-router/internal/route"
	"github.com/goodtune/pac-router/internal/rules"
)

const tableSource = "<rules>"

// Evaluator runs a PAC script. The underlying VM is not reentrant, so calls
// are serialised.
type Evaluator struct {
	mu     sync.Mutex
	parser *gpac.Parser
	source string // file path or URL, or tableSource
}

// New creates an Evaluator from a file path or URL.
func New(source string) (*Evaluator, error) {
	parser, err := gpac.From(source)
	if err != nil {
		return nil, fmt.Errorf("loading PAC from %q: %w", source, err)
	}
	return &Evaluator{parser: parser, source: source}, nil
}

// FromTable creates an Evaluator for the rendered form of t.
func FromTable(t *rules.Table) (*Evaluator, error) {
	parser, err := gpac.New(Render(t))
	if err != nil {
		return nil, fmt.Errorf("compiling rendered PAC: %w", err)
	}
	return &Evaluator{parser: parser, source: tableSource}, nil
}

// Evaluate runs FindProxyForURL and returns the first directive.
func (e *Evaluator) Evaluate(rawURL string) (route.Route, error) {
	e.mu.Lock()
	out, err := e.parser.FindProxyForURL(rawURL)
	e.mu.Unlock()
	if err != nil {
		return route.Route{}, fmt.Errorf("FindProxyForURL(%q): %w", rawURL, err)
	}

	first, _, _ := strings.Cut(out, ";")
	if strings.TrimSpace(first) == "" {
		return route.Direct(), nil
	}
	return route.Parse(first)
}

// Source returns the configured PAC source path or URL.
func (e *Evaluator) Source() string {
	return e.source
}

// Mismatch is a URL on which a table and a PAC script disagree.
type Mismatch struct {
	URL   string
	Table route.Route
	Rule  int
	PAC   route.Route
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: rules say %s (rule %d), PAC says %s", m.URL, m.Table, m.Rule, m.PAC)
}

// Compare evaluates each URL with both t and e and returns the
// disagreements. The host is taken from the URL, as browsers do.
func Compare(t *rules.Table, e *Evaluator, urls []string) ([]Mismatch, error) {
	var out []Mismatch
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", raw, err)
		}
		want := t.Lookup(raw, u.Hostname())
		got, err := e.Evaluate(raw)
		if err != nil {
			return nil, err
		}
		if got != want.Route {
			out = append(out, Mismatch{URL: raw, Table: want.Route, Rule: want.Rule, PAC: got})
		}
	}
	return out, nil
}

// SampleURLs returns one URL per rule that the rule's pattern matches,
// with every wildcard filled in. Host rules become https URLs for that host.
func SampleURLs(t *rules.Table) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t.Entries() {
		s := strings.ReplaceAll(e.Pattern.String(), "*", "x")
		if e.Target == rules.TargetHost {
			s = "https://" + s + "/"
		} else if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		if _, err := url.Parse(s); err != nil || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Verify renders t, runs the script in the VM and checks it agrees with the
// table on every URL.
func Verify(t *rules.Table, urls []string) error {
	e, err := FromTable(t)
	if err != nil {
		return err
	}
	mismatches, err := Compare(t, e, urls)
	if err != nil {
		return err
	}
	if len(mismatches) > 0 {
		lines := make([]string, len(mismatches))
		for i, m := range mismatches {
			lines[i] = m.String()
		}
		return fmt.Errorf("rendered PAC disagrees with rules:\n%s", strings.Join(lines, "\n"))
	}
	return nil
}
