// Package rules builds immutable rule tables from configuration and
// evaluates requests against them.
//
// A table is an ordered list of glob patterns, each bound to a route, plus
// a default route. Evaluation walks the list in declared order and the first
// matching pattern wins, whatever its specificity. Requests matching nothing
// get the default. Evaluation never fails.
//
// Tables are built once and never modified. Hot reload is done by building a
// new table and installing it into a Router, which swaps it atomically.
package rules

import (
	"fmt"
	"strings"

	"github.com/armon/go-radix"

	"github.com/goodtune/pac-router/internal/glob"
	"github.com/goodtune/pac-router/internal/route"
)

// Target selects which part of the request a pattern is tested against.
type Target uint8

const (
	// TargetAuto infers the target from the pattern: patterns containing a
	// '/' are URL patterns, all others are host patterns.
	TargetAuto Target = iota
	TargetURL
	TargetHost
)

func (t Target) String() string {
	switch t {
	case TargetURL:
		return "url"
	case TargetHost:
		return "host"
	default:
		return "auto"
	}
}

// ParseTarget reads a target name. The empty string means TargetAuto.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return TargetAuto, nil
	case "url":
		return TargetURL, nil
	case "host":
		return TargetHost, nil
	default:
		return TargetAuto, fmt.Errorf("unknown match target %q (want url, host or auto)", s)
	}
}

// Spec is one rule as written in configuration.
type Spec struct {
	Pattern string
	Route   string
	Match   string
}

// Config is the raw input to Build. An empty Default means DIRECT.
type Config struct {
	Rules   []Spec
	Default string
}

// ConfigError reports the first invalid entry of a Config. Index is the
// position in Config.Rules, or -1 for the default route.
type ConfigError struct {
	Index int
	Field string
	Raw   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("default route %q: %v", e.Raw, e.Err)
	}
	return fmt.Sprintf("rule %d: %s %q: %v", e.Index, e.Field, e.Raw, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Entry is a compiled rule.
type Entry struct {
	Pattern *glob.Pattern
	Target  Target // never TargetAuto once built
	Route   route.Route
}

// Table is an immutable, compiled rule set. The zero Table has no rules
// and routes everything DIRECT.
type Table struct {
	entries []Entry
	def     route.Route
	index   index
}

// Build compiles cfg into a Table. It fails closed: any invalid entry
// rejects the whole configuration.
func Build(cfg Config) (*Table, error) {
	def := route.Direct()
	if strings.TrimSpace(cfg.Default) != "" {
		r, err := route.Parse(cfg.Default)
		if err != nil {
			return nil, &ConfigError{Index: -1, Field: "route", Raw: cfg.Default, Err: err}
		}
		def = r
	}

	entries := make([]Entry, 0, len(cfg.Rules))
	for i, spec := range cfg.Rules {
		p, err := glob.Compile(spec.Pattern)
		if err != nil {
			return nil, &ConfigError{Index: i, Field: "pattern", Raw: spec.Pattern, Err: err}
		}
		target, err := ParseTarget(spec.Match)
		if err != nil {
			return nil, &ConfigError{Index: i, Field: "match", Raw: spec.Match, Err: err}
		}
		if target == TargetAuto {
			target = inferTarget(spec.Pattern)
		}
		r, err := route.Parse(spec.Route)
		if err != nil {
			return nil, &ConfigError{Index: i, Field: "route", Raw: spec.Route, Err: err}
		}
		entries = append(entries, Entry{Pattern: p, Target: target, Route: r})
	}

	return newTable(entries, def), nil
}

// New assembles a table from already compiled entries. Entries with
// TargetAuto are resolved like Build does.
func New(entries []Entry, def route.Route) (*Table, error) {
	if err := def.Validate(); err != nil {
		return nil, &ConfigError{Index: -1, Field: "route", Raw: def.String(), Err: err}
	}
	own := make([]Entry, len(entries))
	for i, e := range entries {
		if e.Pattern == nil {
			return nil, &ConfigError{Index: i, Field: "pattern", Err: &glob.InvalidPatternError{Reason: "pattern is empty"}}
		}
		if err := e.Route.Validate(); err != nil {
			return nil, &ConfigError{Index: i, Field: "route", Raw: e.Route.String(), Err: err}
		}
		if e.Target == TargetAuto {
			e.Target = inferTarget(e.Pattern.String())
		}
		own[i] = e
	}
	return newTable(own, def), nil
}

func newTable(entries []Entry, def route.Route) *Table {
	t := &Table{entries: entries, def: def}
	t.index = buildIndex(entries)
	return t
}

func inferTarget(pattern string) Target {
	if strings.Contains(pattern, "/") {
		return TargetURL
	}
	return TargetHost
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.entries)
}

// Default returns the route used when no rule matches.
func (t *Table) Default() route.Route {
	return t.def
}

// Entries returns a copy of the rules in priority order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// index groups rule positions by the literal prefix of their pattern so a
// lookup only tests rules that can possibly match.
type index struct {
	url  targetIndex
	host targetIndex
}

type targetIndex struct {
	// prefixed maps a literal prefix to the ascending rule positions that
	// start with it.
	prefixed *radix.Tree
	// always holds rules whose pattern starts with a wildcard.
	always []int
}

func buildIndex(entries []Entry) index {
	idx := index{
		url:  targetIndex{prefixed: radix.New()},
		host: targetIndex{prefixed: radix.New()},
	}
	for i, e := range entries {
		ti := &idx.host
		if e.Target == TargetURL {
			ti = &idx.url
		}
		prefix := e.Pattern.Prefix()
		if prefix == "" {
			ti.always = append(ti.always, i)
			continue
		}
		var positions []int
		if v, ok := ti.prefixed.Get(prefix); ok {
			positions = v.([]int)
		}
		ti.prefixed.Insert(prefix, append(positions, i))
	}
	return idx
}
