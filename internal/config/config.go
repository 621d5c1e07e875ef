// Package config loads rule files and watches them for changes.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v2"

	"github.com/goodtune/pac-router/internal/rules"
)

// File is the on-disk layout of a rule file.
type File struct {
	Default string `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
	Sites   *Sites `yaml:"sites"`
}

// Rule is one explicit rule.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Match   string `yaml:"match"`
	Route   string `yaml:"route"`
}

// Sites is a list of domains sent through one route. Each domain d expands
// to the two classic PAC checks "https://d/*" and "*.d/*".
type Sites struct {
	Route   string   `yaml:"route"`
	Domains []string `yaml:"domains"`
}

// Load reads and parses the rule file at path.
func Load(path string) (rules.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules.Config{}, fmt.Errorf("reading rules from %q: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return rules.Config{}, fmt.Errorf("parsing rules from %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a rule file. Unknown keys are an error.
func Parse(raw []byte) (rules.Config, error) {
	var f File
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.UnmarshalStrict(raw, &f); err != nil {
			return rules.Config{}, err
		}
	}
	return f.Config()
}

// Config flattens the file into the builder input. Explicit rules come
// first, then the expanded sites.
func (f File) Config() (rules.Config, error) {
	cfg := rules.Config{Default: f.Default}
	for _, r := range f.Rules {
		cfg.Rules = append(cfg.Rules, rules.Spec{Pattern: r.Pattern, Match: r.Match, Route: r.Route})
	}
	if f.Sites == nil {
		return cfg, nil
	}
	for i, d := range f.Sites.Domains {
		d = strings.TrimSpace(d)
		if d == "" || strings.ContainsAny(d, "/*") {
			return rules.Config{}, fmt.Errorf("sites.domains[%d]: invalid domain %q", i, f.Sites.Domains[i])
		}
		cfg.Rules = append(cfg.Rules,
			rules.Spec{Pattern: "https://" + d + "/*", Match: "url", Route: f.Sites.Route},
			rules.Spec{Pattern: "*." + d + "/*", Match: "url", Route: f.Sites.Route},
		)
	}
	return cfg, nil
}

// LoadTable loads path and builds a table from it.
func LoadTable(path string) (*rules.Table, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	t, err := rules.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("building rules from %q: %w", path, err)
	}
	return t, nil
}
