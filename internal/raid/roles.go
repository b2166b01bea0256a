package raid

import (
	"sort"
	"strings"

	"github.com/ultrahub-team/ultrahub/internal/catalog"
)

// availableRoles computes the role set still assignable given the current
// members and composition rules.
//
// Unconstrained modes return nil: any role the candidate owns qualifies. In
// meta mode a role stays available only while the already-assigned roles plus
// that role fit inside at least one concrete composition for the boss. For a
// named composition the available set is the composition's roles minus the
// assigned ones, and collapses to empty if the assignments ever diverge from
// the composition.
func availableRoles(cat *catalog.Catalog, s *Session) []string {
	if s.Unconstrained() {
		return nil
	}

	assigned := make(map[string]struct{})
	for _, role := range s.Members {
		if role != PendingRole {
			assigned[role] = struct{}{}
		}
	}

	valid := make(map[string]struct{})
	comps := cat.Compositions(s.Boss)
	if strings.EqualFold(s.Comp, ModeMeta) {
		for _, comp := range comps {
			addRemainder(valid, assigned, comp.Classes)
		}
	} else {
		for _, comp := range comps {
			if strings.EqualFold(comp.Name, s.Comp) {
				addRemainder(valid, assigned, comp.Classes)
				break
			}
		}
	}

	out := make([]string, 0, len(valid))
	for role := range valid {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// addRemainder adds classes minus assigned to valid, but only when assigned
// is a subset of classes.
func addRemainder(valid map[string]struct{}, assigned map[string]struct{}, classes []string) {
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	for a := range assigned {
		if _, ok := set[a]; !ok {
			return
		}
	}
	for c := range set {
		if _, taken := assigned[c]; !taken {
			valid[c] = struct{}{}
		}
	}
}

// roleAssignable checks a concrete candidate role against the current state.
// Roles are unique among assignments in every mode; constrained modes
// additionally require membership in the computed available set.
func roleAssignable(cat *catalog.Catalog, s *Session, role string) bool {
	for _, taken := range s.Members {
		if taken != PendingRole && strings.EqualFold(taken, role) {
			return false
		}
	}
	if s.Unconstrained() {
		return true
	}
	for _, avail := range availableRoles(cat, s) {
		if strings.EqualFold(avail, role) {
			return true
		}
	}
	return false
}
