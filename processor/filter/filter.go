// Package filter provides a named filter that passes lines matching its rules.
//
// Rule types are contains, startswith, endswith, regex, minlength and
// maxlength. A rule type prefixed with "!" is negated. By default every rule
// must match, the option match:any passes a line when one rule matches.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/processor/base"
)

// Kind is the processor kind used in forwarding specs
const Kind = "filter"

type rule struct {
	desc  string
	match func(line string) bool
}

// Filter passes lines that satisfy its rules
type Filter struct {
	*base.Processor
	rules    []rule
	matchAny bool
}

// New builds a filter from its configuration
func New(cfg config.ProcessorConfig, deps base.Deps) (*Filter, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Filter", "New", "id")
	}
	if len(cfg.Rules) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Filter", "New", "rules of "+cfg.ID)
	}

	f := &Filter{matchAny: strings.EqualFold(cfg.Options["match"], "any")}
	for _, rc := range cfg.Rules {
		r, err := parseRule(rc)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Filter", "New", "parse rule of "+cfg.ID)
		}
		f.rules = append(f.rules, r)
	}
	f.Processor = base.New(Kind, cfg.ID, f.apply, deps)
	return f, nil
}

func parseRule(rc config.RuleConfig) (rule, error) {
	typ := strings.ToLower(strings.TrimSpace(rc.Type))
	negate := strings.HasPrefix(typ, "!")
	typ = strings.TrimPrefix(typ, "!")
	value := rc.Value

	var match func(string) bool
	switch typ {
	case "contains":
		match = func(line string) bool { return strings.Contains(line, value) }
	case "startswith":
		match = func(line string) bool { return strings.HasPrefix(line, value) }
	case "endswith":
		match = func(line string) bool { return strings.HasSuffix(line, value) }
	case "regex":
		re, err := regexp.Compile(value)
		if err != nil {
			return rule{}, err
		}
		match = re.MatchString
	case "minlength", "maxlength":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return rule{}, fmt.Errorf("%s needs a positive number, got %q", typ, value)
		}
		if typ == "minlength" {
			match = func(line string) bool { return len(line) >= n }
		} else {
			match = func(line string) bool { return len(line) <= n }
		}
	default:
		return rule{}, fmt.Errorf("unknown rule type %q", rc.Type)
	}

	if negate {
		inner := match
		match = func(line string) bool { return !inner(line) }
	}
	return rule{desc: rc.Type + ":" + value, match: match}, nil
}

func (f *Filter) apply(line string) (string, bool, error) {
	return line, f.Matches(line), nil
}

// Matches reports whether line passes the rules
func (f *Filter) Matches(line string) bool {
	for _, r := range f.rules {
		ok := r.match(line)
		if f.matchAny && ok {
			return true
		}
		if !f.matchAny && !ok {
			return false
		}
	}
	return !f.matchAny
}

// Rules lists the rules as type:value
func (f *Filter) Rules() []string {
	out := make([]string, len(f.rules))
	for i, r := range f.rules {
		out[i] = r.desc
	}
	return out
}
