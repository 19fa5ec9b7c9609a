// Package policy implements the Policy Engine (C5): structured
// allow/deny rules evaluated in priority order, with a per-(tenant, role)
// compiled-rule cache invalidated on write. Grounded on the teacher's
// governance.PolicyEngine for the sync.RWMutex cache shape and
// fail-closed default-deny posture — not on its CEL evaluator, which
// spec.md §4.5 replaces with a fixed, language-neutral condition schema
// that a non-technical tenant admin can author as plain JSON.
package policy

import (
	"time"

	"github.com/google/uuid"
)

// Policy is the spec.md §3 Policy entity.
type Policy struct {
	ID          uuid.UUID
	Role        string
	Rule        Rule
	Description *string
	Priority    int
	IsActive    bool
	TenantID    *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Rule is the structured, language-neutral shape from spec.md §4.5.
type Rule struct {
	Actions    []string    `json:"actions"`
	Resource   string      `json:"resource"`
	Effect     string      `json:"effect"`
	Conditions *Conditions `json:"conditions,omitempty"`
}

// Effect values a Rule may declare.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Conditions is the optional condition block of a Rule.
type Conditions struct {
	Roles              []string            `json:"roles,omitempty"`
	IdentityClaims     map[string]any      `json:"identity_claims,omitempty"`
	TimeRestrictions   *TimeRestrictions   `json:"time_restrictions,omitempty"`
	IPRestrictions     *IPRestrictions     `json:"ip_restrictions,omitempty"`
	ResourceConditions *ResourceConditions `json:"resource_conditions,omitempty"`
}

// TimeRestrictions narrows when a rule applies, evaluated in UTC.
type TimeRestrictions struct {
	TimeOfDay  []int      `json:"time_of_day,omitempty"` // hours 0-23
	DaysOfWeek []int      `json:"days_of_week,omitempty"` // 0 (Sunday) .. 6
	DateRange  *DateRange `json:"date_range,omitempty"`
}

// DateRange bounds a TimeRestrictions window, inclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IPRestrictions narrows which client IPs a rule applies to.
type IPRestrictions struct {
	AllowedIPs    []string `json:"allowed_ips,omitempty"`
	AllowedRanges []string `json:"allowed_ranges,omitempty"` // CIDR
}

// ResourceConditions narrows which resource a rule applies to by looking
// at keys the caller supplies in EvalContext.Resource.
type ResourceConditions struct {
	MemoryTypes          []string       `json:"memory_types,omitempty"`
	MetadataRequirements map[string]any `json:"metadata_requirements,omitempty"`
}

// validate rejects structurally malformed rules at write time
// (spec.md §4.5: "PolicyMalformed ... on write only").
func (r Rule) validate() error {
	if r.Effect != EffectAllow && r.Effect != EffectDeny {
		return errInvalidEffect
	}
	if len(r.Actions) == 0 {
		return errEmptyActions
	}
	if r.Resource == "" {
		return errEmptyResource
	}
	return nil
}
