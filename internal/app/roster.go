package app

import (
	"sort"

	"github.com/dkeye/huddle/internal/domain"
)

// Plan is the set of link changes that makes the local links match a roster.
type Plan struct {
	Create []domain.Participant
	Remove []domain.UserID
}

func (p Plan) Empty() bool { return len(p.Create) == 0 && len(p.Remove) == 0 }

// Reconcile diffs roster minus self against the currently linked peers.
func Reconcile(roster domain.Roster, self domain.UserID, current []domain.UserID) Plan {
	want := roster.Others(self)
	wanted := make(map[domain.UserID]struct{}, len(want))
	for _, p := range want {
		wanted[p.ID] = struct{}{}
	}
	have := make(map[domain.UserID]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}

	var plan Plan
	for _, id := range current {
		if _, ok := wanted[id]; !ok {
			plan.Remove = append(plan.Remove, id)
		}
	}
	for _, p := range want {
		if _, ok := have[p.ID]; !ok {
			plan.Create = append(plan.Create, p)
		}
	}
	sort.Slice(plan.Remove, func(i, j int) bool { return domain.Less(plan.Remove[i], plan.Remove[j]) })
	return plan
}
