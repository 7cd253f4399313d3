package policy

import (
	"fmt"
	"strings"
)

// RequirementKind identifies the variant of a [Requirement].
type RequirementKind uint8

const (
	// KindAuthenticated requires any valid session principal. It is the zero
	// value so an unset requirement never grants anonymous access.
	KindAuthenticated RequirementKind = iota
	// KindPermitAll allows every caller, including anonymous ones.
	KindPermitAll
	// KindRoleAny requires at least one of the listed roles.
	KindRoleAny
	// KindRoleAll requires every listed role.
	KindRoleAll
)

func (k RequirementKind) String() string {
	switch k {
	case KindAuthenticated:
		return "authenticated"
	case KindPermitAll:
		return "permitAll"
	case KindRoleAny:
		return "hasAnyRole"
	case KindRoleAll:
		return "hasAllRoles"
	default:
		return fmt.Sprintf("RequirementKind(%d)", uint8(k))
	}
}

// ParseRequirementKind maps the configuration spelling of a requirement to
// its kind. Both the short names ("any", "all") and the long names
// ("hasAnyRole", "hasAllRoles") are accepted.
func ParseRequirementKind(s string) (RequirementKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "authenticated", "":
		return KindAuthenticated, true
	case "permitall", "permit_all", "permit":
		return KindPermitAll, true
	case "hasanyrole", "roleany", "role_any", "any":
		return KindRoleAny, true
	case "hasallroles", "roleall", "role_all", "all":
		return KindRoleAll, true
	default:
		return 0, false
	}
}

// Requirement is the access condition attached to a rule.
type Requirement struct {
	Kind  RequirementKind
	Roles []string

	mask     RoleMask
	compiled bool
}

// PermitAll returns a requirement satisfied by every caller.
func PermitAll() Requirement {
	return Requirement{Kind: KindPermitAll}
}

// Authenticated returns a requirement satisfied by any session principal.
func Authenticated() Requirement {
	return Requirement{Kind: KindAuthenticated}
}

// RoleAny returns a requirement satisfied by holding at least one of roles.
func RoleAny(roles ...string) Requirement {
	return Requirement{Kind: KindRoleAny, Roles: normalizeRoles(roles)}
}

// RoleAll returns a requirement satisfied by holding every one of roles.
func RoleAll(roles ...string) Requirement {
	return Requirement{Kind: KindRoleAll, Roles: normalizeRoles(roles)}
}

func (r Requirement) String() string {
	switch r.Kind {
	case KindRoleAny, KindRoleAll:
		return r.Kind.String() + "(" + strings.Join(r.Roles, ",") + ")"
	default:
		return r.Kind.String()
	}
}

// RuleSpec is the uncompiled, configured form of a rule.
type RuleSpec struct {
	Patterns    []string
	Requirement Requirement
}

// Rule is a compiled access rule.
//
// Ordinal is the 1-based position in the configured table. Implicit rules
// (login and logout surfaces) and the fallback rule carry Ordinal 0.
type Rule struct {
	Ordinal     int
	Patterns    []Pattern
	Requirement Requirement
	Implicit    bool
	Fallback    bool
}

// Matches reports whether any of the rule's patterns matches requestPath.
// The fallback rule matches everything.
func (r Rule) Matches(requestPath string) bool {
	if r.Fallback {
		return true
	}
	for _, p := range r.Patterns {
		if p.Match(requestPath) {
			return true
		}
	}
	return false
}

func (r Rule) String() string {
	if r.Fallback {
		return "anyRequest " + r.Requirement.String()
	}
	raw := make([]string, len(r.Patterns))
	for i, p := range r.Patterns {
		raw[i] = p.String()
	}
	label := fmt.Sprintf("#%d", r.Ordinal)
	if r.Implicit {
		label = "implicit"
	}
	return label + " [" + strings.Join(raw, " ") + "] " + r.Requirement.String()
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = NormalizeRole(role)
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
