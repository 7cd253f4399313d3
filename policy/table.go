package policy

import (
	"strings"

	"github.com/samber/oops"
)

// Table is an immutable, ordered rule table produced by [Compile]. It is safe
// for concurrent use.
type Table struct {
	rules    []Rule
	fallback Rule
	roles    roleRegistry
}

type compileOptions struct {
	implicit []string
}

// Option configures [Compile].
type Option func(*compileOptions)

// WithImplicitPermit prepends a PermitAll rule matching exactly the given
// paths. Query strings are ignored; empty and duplicate paths are skipped.
// It is used for the login and logout surfaces, which must stay reachable
// whatever the configured rules say.
func WithImplicitPermit(paths ...string) Option {
	return func(o *compileOptions) {
		o.implicit = append(o.implicit, paths...)
	}
}

// Compile validates specs and builds a [Table]. Specs keep their configured
// order. A path matching no rule falls through to an Authenticated default.
func Compile(specs []RuleSpec, opts ...Option) (*Table, error) {
	var o compileOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	t := &Table{
		roles:    newRoleRegistry(),
		fallback: Rule{Requirement: compiledRequirement(Authenticated()), Fallback: true},
	}

	if implicit, err := implicitRule(o.implicit); err != nil {
		return nil, err
	} else if implicit != nil {
		t.rules = append(t.rules, *implicit)
	}

	for i, spec := range specs {
		rule, err := t.compileRule(i+1, spec)
		if err != nil {
			return nil, err
		}
		t.rules = append(t.rules, rule)
	}

	return t, nil
}

// MustCompile is like [Compile] but panics on error.
func MustCompile(specs []RuleSpec, opts ...Option) *Table {
	t, err := Compile(specs, opts...)
	if err != nil {
		panic("policy: " + err.Error())
	}
	return t
}

func (t *Table) compileRule(ordinal int, spec RuleSpec) (Rule, error) {
	errb := oops.In("policy").With("rule", ordinal)

	if len(spec.Patterns) == 0 {
		return Rule{}, errb.Code("POLICY_NO_PATTERNS").
			Wrapf(ErrInvalidRule, "rule %d has no patterns", ordinal)
	}

	patterns := make([]Pattern, 0, len(spec.Patterns))
	for _, raw := range spec.Patterns {
		p, err := CompilePattern(raw)
		if err != nil {
			return Rule{}, errb.Wrap(err)
		}
		patterns = append(patterns, p)
	}

	req := spec.Requirement
	switch req.Kind {
	case KindPermitAll, KindAuthenticated:
		req.Roles = nil
	case KindRoleAny, KindRoleAll:
		req.Roles = normalizeRoles(req.Roles)
		if len(req.Roles) == 0 {
			return Rule{}, errb.Code("POLICY_NO_ROLES").
				With("requirement", req.Kind.String()).
				Wrapf(ErrInvalidRule, "rule %d requires roles but lists none", ordinal)
		}
		for _, role := range req.Roles {
			bit, err := t.roles.register(role)
			if err != nil {
				return Rule{}, errb.Wrap(err)
			}
			req.mask.set(bit)
		}
	default:
		return Rule{}, errb.Code("POLICY_UNKNOWN_REQUIREMENT").
			With("kind", uint8(req.Kind)).
			Wrapf(ErrInvalidRule, "rule %d has unknown requirement", ordinal)
	}
	req.compiled = true

	return Rule{Ordinal: ordinal, Patterns: patterns, Requirement: req}, nil
}

func implicitRule(paths []string) (*Rule, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(paths))
	patterns := make([]Pattern, 0, len(paths))
	for _, raw := range paths {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			raw = raw[:i]
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		raw = NormalizePath(raw)
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		// surface paths are matched literally
		if strings.ContainsAny(raw, "*?[{") {
			return nil, oops.In("policy").
				Code("POLICY_INVALID_SURFACE").
				With("path", raw).
				Wrapf(ErrInvalidPattern, "surface path must be literal")
		}
		p, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	return &Rule{
		Patterns:    patterns,
		Requirement: compiledRequirement(PermitAll()),
		Implicit:    true,
	}, nil
}

func compiledRequirement(r Requirement) Requirement {
	r.compiled = true
	return r
}

// Match returns the first rule whose patterns match requestPath, or the
// Authenticated fallback rule.
func (t *Table) Match(requestPath string) Rule {
	parts := splitPath(NormalizePath(requestPath))
	for _, rule := range t.rules {
		for _, p := range rule.Patterns {
			if matchSegments(p.segments, parts) {
				return rule
			}
		}
	}
	return t.fallback
}

// Evaluate matches requestPath and decides it for subject.
func (t *Table) Evaluate(requestPath string, subject *Subject) (Rule, Decision) {
	rule := t.Match(requestPath)
	return rule, t.Decide(rule, subject)
}

// Rules returns the compiled rules in evaluation order, implicit rules first.
// The fallback rule is not included.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Fallback returns the rule applied when nothing else matches.
func (t *Table) Fallback() Rule {
	return t.fallback
}

// RoleCount returns the number of distinct roles referenced by the table.
func (t *Table) RoleCount() int {
	return t.roles.count()
}

// Shadowed returns the configured rules that can never match because every
// one of their patterns is covered by a pattern of an earlier rule. Coverage
// is checked conservatively, so a rule absent from the result may still be
// unreachable in practice.
func (t *Table) Shadowed() []Rule {
	var out []Rule
	for i := 1; i < len(t.rules); i++ {
		if t.rules[i].Implicit {
			continue
		}
		if coveredByEarlier(t.rules[:i], t.rules[i]) {
			out = append(out, t.rules[i])
		}
	}
	return out
}

func coveredByEarlier(earlier []Rule, rule Rule) bool {
	for _, candidate := range rule.Patterns {
		covered := false
		for _, prev := range earlier {
			for _, p := range prev.Patterns {
				if p.covers(candidate) {
					covered = true
					break
				}
			}
			if covered {
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}
