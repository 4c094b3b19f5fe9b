// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package transform

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/xmidt-org/culvert/internal/event"
)

// Mutator maps an incoming event onto the output document shape.  Each rule
// either copies a source field directly or extracts a value from it with a
// regular expression and a replacement template.
//
// An empty rule set passes events through unchanged.
type Mutator struct {
	rules []rule
}

type rule struct {
	to      string
	from    string
	pattern *regexp.Regexp
	replace string
}

// New compiles a mutation configuration.  Each map value is either a source
// field name (direct copy) or a [source, pattern, replacement] tuple.  Rules
// are applied in sorted output-field order so the result is deterministic.
func New(mutations map[string]any) (*Mutator, error) {
	m := &Mutator{}

	fields := make([]string, 0, len(mutations))
	for to := range mutations {
		fields = append(fields, to)
	}
	sort.Strings(fields)

	for _, to := range fields {
		switch spec := mutations[to].(type) {
		case string:
			m.rules = append(m.rules, rule{to: to, from: spec})
		case []string:
			r, err := tupleRule(to, toAny(spec))
			if err != nil {
				return nil, err
			}
			m.rules = append(m.rules, r)
		case []any:
			r, err := tupleRule(to, spec)
			if err != nil {
				return nil, err
			}
			m.rules = append(m.rules, r)
		default:
			return nil, fmt.Errorf("mutation for %q must be a field name or a [field, pattern, replacement] tuple", to)
		}
	}

	return m, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func tupleRule(to string, spec []any) (rule, error) {
	if len(spec) != 3 {
		return rule{}, fmt.Errorf("mutation tuple for %q must have exactly 3 elements, got %d", to, len(spec))
	}

	parts := make([]string, 3)
	for i, v := range spec {
		s, ok := v.(string)
		if !ok {
			return rule{}, fmt.Errorf("mutation tuple for %q must contain only strings", to)
		}
		parts[i] = s
	}

	pattern, err := regexp.Compile(parts[1])
	if err != nil {
		return rule{}, fmt.Errorf("invalid mutation pattern for %q: %w", to, err)
	}

	return rule{to: to, from: parts[0], pattern: pattern, replace: parts[2]}, nil
}

// Apply produces the output document for one event.  Source fields missing
// from the event are skipped without error.  With no rules configured the
// event is returned as-is.
func (m *Mutator) Apply(in event.Record) event.Record {
	if len(m.rules) == 0 {
		return in
	}

	out := make(event.Record, len(m.rules))
	for _, r := range m.rules {
		v, ok := in[r.from]
		if !ok {
			continue
		}

		if r.pattern == nil {
			out[r.to] = v
			continue
		}

		out[r.to] = r.pattern.ReplaceAllString(fmt.Sprint(v), r.replace)
	}

	return out
}
