// Package dependency derives the load order of auxiliary tables from the
// table names their SQL mentions.
package dependency

import (
	"regexp"
	"sort"
	"strings"

	"canvas-aux/internal/errors"
)

// Precedence maps each root to the other roots its SQL references
type Precedence map[string][]string

// Extract scans each resolved SQL text for whole-token occurrences of the
// other root names. Matches inside string literals or comments count as
// references.
func Extract(sources map[string]string) Precedence {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	// Longest first so an alternation never settles on a prefix
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	precedence := make(Precedence, len(sources))
	if len(names) == 0 {
		return precedence
	}

	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = regexp.QuoteMeta(name)
	}
	pattern := regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)

	for name, sql := range sources {
		seen := make(map[string]bool)
		deps := []string{}
		for _, match := range pattern.FindAllString(sql, -1) {
			if match == name || seen[match] {
				continue
			}
			seen[match] = true
			deps = append(deps, match)
		}
		sort.Strings(deps)
		precedence[name] = deps
	}

	return precedence
}

// Validate checks that every referenced name is itself a template
func (p Precedence) Validate() error {
	var missing []string
	for _, deps := range p {
		for _, dep := range deps {
			if _, ok := p[dep]; !ok {
				missing = append(missing, dep)
			}
		}
	}
	if len(missing) > 0 {
		return errors.NewTableError("referenced table has no template", missing...).AsFatal()
	}
	return nil
}

// Sort returns the roots in an order where every table follows the tables
// it references. Within a pass roots are considered in name order. A pass
// that emits nothing means the remaining roots form or depend on a cycle.
func (p Precedence) Sort() ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(p))
	for name := range p {
		pending = append(pending, name)
	}
	sort.Strings(pending)

	emitted := make(map[string]bool, len(p))
	order := make([]string, 0, len(p))

	for len(pending) > 0 {
		var residual []string
		for _, name := range pending {
			if p.satisfied(name, emitted) {
				emitted[name] = true
				order = append(order, name)
				continue
			}
			residual = append(residual, name)
		}

		if len(residual) == len(pending) {
			return nil, errors.NewTableError("dependency cycle among templates", residual...).AsFatal()
		}
		pending = residual
	}

	return order, nil
}

func (p Precedence) satisfied(name string, emitted map[string]bool) bool {
	for _, dep := range p[name] {
		if dep != name && !emitted[dep] {
			return false
		}
	}
	return true
}

// LoadOrder extracts the precedence map from resolved SQL and sorts it
func LoadOrder(sources map[string]string) ([]string, Precedence, error) {
	precedence := Extract(sources)
	order, err := precedence.Sort()
	if err != nil {
		return nil, precedence, err
	}
	return order, precedence, nil
}

// Dependents returns the roots that directly reference name, sorted
func (p Precedence) Dependents(name string) []string {
	var out []string
	for root, deps := range p {
		for _, dep := range deps {
			if dep == name {
				out = append(out, root)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
