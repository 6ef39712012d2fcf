package quota

import "github.com/Mercury-nju/novamail-sub004/pkg/domain"

// Unlimited marks an action with no monthly ceiling.
const Unlimited = -1

// planLimits maps plan -> action -> monthly ceiling.
var planLimits = map[domain.Plan]map[domain.Action]int{
	domain.PlanFree: {
		domain.ActionContacts:  500,
		domain.ActionCampaigns: 5,
		domain.ActionEmails:    1000,
	},
	domain.PlanPro: {
		domain.ActionContacts:  Unlimited,
		domain.ActionCampaigns: Unlimited,
		domain.ActionEmails:    50000,
	},
}

// PlanLimit returns the monthly ceiling for the given plan and action.
// Unknown plans fall back to free-tier limits.
func PlanLimit(plan domain.Plan, action domain.Action) int {
	limits, ok := planLimits[plan]
	if !ok {
		limits = planLimits[domain.PlanFree]
	}
	limit, ok := limits[action]
	if !ok {
		return 0
	}
	return limit
}

// ValidAction reports whether s names a metered action.
func ValidAction(s string) (domain.Action, bool) {
	switch domain.Action(s) {
	case domain.ActionContacts, domain.ActionCampaigns, domain.ActionEmails:
		return domain.Action(s), true
	}
	return "", false
}
