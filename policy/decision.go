package policy

// Decision is the outcome of evaluating a rule for a caller.
type Decision uint8

const (
	// DecisionDeny rejects an authenticated caller lacking the required
	// roles. It is the zero value.
	DecisionDeny Decision = iota
	// DecisionAllow lets the request proceed.
	DecisionAllow
	// DecisionChallenge asks an anonymous caller to authenticate.
	DecisionChallenge
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionChallenge:
		return "challenge"
	default:
		return "deny"
	}
}

// Subject is the authenticated caller a rule is evaluated against.
type Subject struct {
	PrincipalID string
	Roles       []string
}

// Decide evaluates rule for subject using the table's role registry. A nil
// subject is an anonymous caller.
func (t *Table) Decide(rule Rule, subject *Subject) Decision {
	req := rule.Requirement
	if !req.compiled {
		return Decide(rule, subject)
	}

	switch req.Kind {
	case KindPermitAll:
		return DecisionAllow
	case KindAuthenticated:
		if subject == nil {
			return DecisionChallenge
		}
		return DecisionAllow
	case KindRoleAny, KindRoleAll:
		if subject == nil {
			return DecisionChallenge
		}
		held := t.roles.mask(subject.Roles)
		if req.Kind == KindRoleAny && held.Intersects(req.mask) {
			return DecisionAllow
		}
		if req.Kind == KindRoleAll && !req.mask.Empty() && held.Covers(req.mask) {
			return DecisionAllow
		}
		return DecisionDeny
	default:
		return DecisionDeny
	}
}

// Decide evaluates rule for subject by comparing role names directly. It is
// used for rules that were not produced by [Compile]; rules from a [Table]
// should go through [Table.Decide].
func Decide(rule Rule, subject *Subject) Decision {
	req := rule.Requirement
	switch req.Kind {
	case KindPermitAll:
		return DecisionAllow
	case KindAuthenticated:
		if subject == nil {
			return DecisionChallenge
		}
		return DecisionAllow
	case KindRoleAny, KindRoleAll:
		if subject == nil {
			return DecisionChallenge
		}
		held := make(map[string]struct{}, len(subject.Roles))
		for _, role := range subject.Roles {
			held[NormalizeRole(role)] = struct{}{}
		}
		required := normalizeRoles(req.Roles)
		if len(required) == 0 {
			return DecisionDeny
		}
		matched := 0
		for _, role := range required {
			if _, ok := held[role]; ok {
				matched++
			}
		}
		if req.Kind == KindRoleAny && matched > 0 {
			return DecisionAllow
		}
		if req.Kind == KindRoleAll && matched == len(required) {
			return DecisionAllow
		}
		return DecisionDeny
	default:
		return DecisionDeny
	}
}
