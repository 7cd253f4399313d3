package policy

import (
	"strings"

	"github.com/samber/oops"
)

const (
	roleWords  = 4
	maxRoles   = roleWords * 64
	rolePrefix = "ROLE_"
)

// RoleMask is a fixed-width bitset over the role names referenced by a
// compiled table. Bit positions are assigned by the table's registry.
type RoleMask [roleWords]uint64

func (m *RoleMask) set(bit int) {
	if bit < 0 || bit >= maxRoles {
		return
	}
	m[bit/64] |= 1 << (uint(bit) % 64)
}

// Has reports whether the bit at position bit is set.
func (m RoleMask) Has(bit int) bool {
	if bit < 0 || bit >= maxRoles {
		return false
	}
	return m[bit/64]&(1<<(uint(bit)%64)) != 0
}

// Intersects reports whether m and other share at least one role.
func (m RoleMask) Intersects(other RoleMask) bool {
	for i := range m {
		if m[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

// Covers reports whether every role in other is also in m.
func (m RoleMask) Covers(other RoleMask) bool {
	for i := range m {
		if m[i]&other[i] != other[i] {
			return false
		}
	}
	return true
}

// Empty reports whether no bit is set.
func (m RoleMask) Empty() bool {
	return m == RoleMask{}
}

// NormalizeRole trims whitespace and the conventional "ROLE_" authority
// prefix, so "ROLE_ADMIN" and "ADMIN" name the same role.
func NormalizeRole(name string) string {
	name = strings.TrimSpace(name)
	return strings.TrimPrefix(name, rolePrefix)
}

// roleRegistry maps role names to bit positions. It is filled during Compile
// and read-only afterwards.
type roleRegistry struct {
	nameToBit map[string]int
}

func newRoleRegistry() roleRegistry {
	return roleRegistry{nameToBit: make(map[string]int)}
}

func (r *roleRegistry) register(name string) (int, error) {
	name = NormalizeRole(name)
	if name == "" {
		return -1, oops.In("policy").
			Code("POLICY_EMPTY_ROLE").
			Wrapf(ErrInvalidRule, "role name cannot be empty")
	}
	if bit, ok := r.nameToBit[name]; ok {
		return bit, nil
	}

	next := len(r.nameToBit)
	if next >= maxRoles {
		return -1, oops.In("policy").
			Code("POLICY_ROLE_LIMIT").
			With("limit", maxRoles).
			Wrapf(ErrInvalidRule, "too many distinct roles")
	}
	r.nameToBit[name] = next
	return next, nil
}

// mask returns the bitset for names. Names the table never references carry
// no bit and cannot influence a decision.
func (r *roleRegistry) mask(names []string) RoleMask {
	var m RoleMask
	for _, name := range names {
		if bit, ok := r.nameToBit[NormalizeRole(name)]; ok {
			m.set(bit)
		}
	}
	return m
}

func (r *roleRegistry) count() int {
	return len(r.nameToBit)
}
