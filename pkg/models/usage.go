package models

// CheckPermissionRequest asks whether an action with the given increment
// would stay inside the plan limit.
type CheckPermissionRequest struct {
	Action    string `json:"action" validate:"required,oneof=contacts campaigns emails"`
	Increment int    `json:"increment" validate:"required,min=1"`
}

// CheckPermissionResponse reports the quota decision
type CheckPermissionResponse struct {
	Success bool   `json:"success"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Current int    `json:"current,omitempty"`
}

// UpdateUsageRequest commits usage after a guarded action succeeded
type UpdateUsageRequest struct {
	Action    string `json:"action" validate:"required,oneof=contacts campaigns emails"`
	Increment int    `json:"increment" validate:"required,min=1"`
}

// ActionUsage is the per-action slice of a usage snapshot
type ActionUsage struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}

// UsageResponse is the full usage snapshot for an account
type UsageResponse struct {
	Plan      string                 `json:"plan"`
	Actions   map[string]ActionUsage `json:"actions"`
	ResetAt   string                 `json:"reset_at"`
	Remaining map[string]int         `json:"remaining"`
}

// SendCampaignRequest drives the quota-gated campaign send endpoint
type SendCampaignRequest struct {
	CampaignID string `json:"campaign_id" validate:"required"`
	Recipients int    `json:"recipients" validate:"required,min=1"`
}
