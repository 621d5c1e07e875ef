package rules

import (
	"net/url"

	"github.com/goodtune/pac-router/internal/route"
)

// Result is the outcome of a lookup.
type Result struct {
	Route route.Route
	// Rule is the position of the winning rule, or -1 when the default
	// route was used.
	Rule int
}

// Matched reports whether a rule matched, as opposed to the default.
func (r Result) Matched() bool {
	return r.Rule >= 0
}

// Route returns the route for the request. It never fails; requests that
// match no rule, including those with an empty url, get the default route.
func (t *Table) Route(rawURL, host string) route.Route {
	return t.Lookup(rawURL, host).Route
}

// Lookup is Route plus the position of the rule that decided it.
func (t *Table) Lookup(rawURL, host string) Result {
	if rawURL == "" {
		return Result{Route: t.def, Rule: -1}
	}
	if host == "" {
		host = hostOf(rawURL)
	}
	if t.index.url.prefixed == nil {
		// Zero Table, not built by Build or New.
		return t.lookupLinear(rawURL, host)
	}

	best := t.index.url.first(t.entries, rawURL, -1)
	best = t.index.host.first(t.entries, host, best)
	if best < 0 {
		return Result{Route: t.def, Rule: -1}
	}
	return Result{Route: t.entries[best].Route, Rule: best}
}

// first returns the lowest rule position below limit whose pattern matches
// subject, or limit when none does. A negative limit means no bound.
func (ti *targetIndex) first(entries []Entry, subject string, limit int) int {
	best := limit
	below := func(i int) bool { return best < 0 || i < best }

	for _, i := range ti.always {
		if !below(i) {
			break
		}
		if entries[i].Pattern.Match(subject) {
			best = i
			break
		}
	}

	ti.prefixed.WalkPath(subject, func(_ string, v interface{}) bool {
		for _, i := range v.([]int) {
			if !below(i) {
				break
			}
			if entries[i].Pattern.Match(subject) {
				best = i
				break
			}
		}
		return false
	})
	return best
}

// lookupLinear is the unindexed reference evaluation.
func (t *Table) lookupLinear(rawURL, host string) Result {
	if rawURL == "" {
		return Result{Route: t.def, Rule: -1}
	}
	if host == "" {
		host = hostOf(rawURL)
	}
	for i, e := range t.entries {
		subject := host
		if e.Target == TargetURL {
			subject = rawURL
		}
		if e.Pattern.Match(subject) {
			return Result{Route: e.Route, Rule: i}
		}
	}
	return Result{Route: t.def, Rule: -1}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
