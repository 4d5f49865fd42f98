package evidence

import (
	"github.com/triad-med/triad/pkg/store"
)

// SlotPlan is the per-pattern share of the path budget for one request.
type SlotPlan struct {
	// Slots maps each retrieval pattern to its allocated quota.
	Slots map[string]int
	// Rebalanced is set when floors or redistribution moved the
	// allocation away from the clipped request.
	Rebalanced bool
	// Infeasible is set when the budget cannot cover one slot per
	// populated pattern. The plan is still usable.
	Infeasible bool
}

// Total returns the number of allocated slots across all patterns.
func (p SlotPlan) Total() int {
	total := 0
	for _, pattern := range store.Patterns {
		total += p.Slots[pattern]
	}
	return total
}

// DefaultRequest splits the path budget evenly across the patterns in
// declaration order, handing the remainder to the earliest ones.
func DefaultRequest(budget int) map[string]int {
	out := make(map[string]int, len(store.Patterns))
	if budget < 0 {
		budget = 0
	}
	share := budget / len(store.Patterns)
	remainder := budget % len(store.Patterns)
	for i, pattern := range store.Patterns {
		out[pattern] = share
		if i < remainder {
			out[pattern]++
		}
	}
	return out
}

// MergeOverrides lays caller overrides over a default request. Unknown
// pattern names are ignored and negative overrides count as zero.
func MergeOverrides(defaults map[string]int, overrides map[string]int) map[string]int {
	out := make(map[string]int, len(store.Patterns))
	for _, pattern := range store.Patterns {
		out[pattern] = defaults[pattern]
		if v, ok := overrides[pattern]; ok {
			if v < 0 {
				v = 0
			}
			out[pattern] = v
		}
	}
	return out
}

// Allocate splits the path budget across the retrieval patterns.
//
// The requested quotas are clipped to availability, every populated
// pattern is then raised to a floor of one slot, overruns are trimmed
// from the patterns with the largest surplus over their floor, and any
// budget left over moves to the patterns with the most unused
// availability. When the budget cannot cover one slot per populated
// pattern, slots are handed out one each in pattern declaration order
// and the plan is flagged infeasible instead of failing. All ties
// resolve in declaration order, so identical inputs always produce an
// identical plan.
func Allocate(requested map[string]int, available map[string]int, budget int) SlotPlan {
	plan := SlotPlan{Slots: make(map[string]int, len(store.Patterns))}
	for _, pattern := range store.Patterns {
		plan.Slots[pattern] = 0
	}

	populated := make([]string, 0, len(store.Patterns))
	for _, pattern := range store.Patterns {
		if available[pattern] > 0 {
			populated = append(populated, pattern)
		}
	}
	if len(populated) == 0 {
		return plan
	}
	if budget <= 0 {
		plan.Infeasible = true
		return plan
	}

	clipped := make(map[string]int, len(store.Patterns))
	for _, pattern := range store.Patterns {
		quota := requested[pattern]
		if quota < 0 {
			quota = 0
		}
		if quota > available[pattern] {
			quota = available[pattern]
		}
		clipped[pattern] = quota
	}

	if budget < len(populated) {
		plan.Infeasible = true
		left := budget
		for _, pattern := range populated {
			if left == 0 {
				break
			}
			plan.Slots[pattern] = 1
			left--
		}
		plan.Rebalanced = slotsDiffer(plan.Slots, clipped)
		return plan
	}

	for pattern, quota := range clipped {
		plan.Slots[pattern] = quota
	}
	for _, pattern := range populated {
		if plan.Slots[pattern] == 0 {
			plan.Slots[pattern] = 1
		}
	}

	for plan.Total() > budget {
		worst := ""
		worstSurplus := 0
		for _, pattern := range populated {
			surplus := plan.Slots[pattern] - 1
			if surplus >= worstSurplus && surplus > 0 {
				worst, worstSurplus = pattern, surplus
			}
		}
		if worst == "" {
			break
		}
		plan.Slots[worst]--
	}

	for plan.Total() < budget {
		best := ""
		bestRoom := 0
		for _, pattern := range populated {
			room := available[pattern] - plan.Slots[pattern]
			if room > bestRoom {
				best, bestRoom = pattern, room
			}
		}
		if best == "" {
			break
		}
		plan.Slots[best]++
	}

	plan.Rebalanced = slotsDiffer(plan.Slots, clipped)
	return plan
}

func slotsDiffer(a map[string]int, b map[string]int) bool {
	for _, pattern := range store.Patterns {
		if a[pattern] != b[pattern] {
			return true
		}
	}
	return false
}
