package policy

import (
	"context"
	"net"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/apierr"
	"github.com/nimbusid/core/internal/telemetry"
	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/tenant"
)

// EvalContext carries the request-specific facts a Rule's conditions are
// matched against, beyond the principal itself.
type EvalContext struct {
	ClientIP string
	At       time.Time // evaluation instant; zero means time.Now()
	Resource map[string]any
}

// Decision is the outcome of Evaluate: Allowed, and if denied, which
// (if any) policy produced the deny for diagnostics.
type Decision struct {
	Allowed  bool
	PolicyID *uuid.UUID
}

type cacheKey struct {
	tenantID uuid.UUID
	system   bool
	role     string
}

// Engine evaluates (principal, action, resource, context) -> allow|deny
// against a tenant/role's active policies, sorted by priority descending
// then created_at ascending (spec.md §4.5 evaluation order). Compiled rule
// sets are cached per (tenant, role) and invalidated on any write for that
// scope, mirroring the teacher's PolicyEngine.mu-guarded map cache.
type Engine struct {
	store *Store

	mu    sync.RWMutex
	cache map[cacheKey][]Policy
}

// NewEngine creates a policy Engine over store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store, cache: make(map[cacheKey][]Policy)}
}

// InvalidateCache drops any cached rule set for (scope, role), called after
// any policy write affecting that scope.
func (e *Engine) InvalidateCache(scope tenant.Scope, role string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, keyFor(scope, role))
}

func keyFor(scope tenant.Scope, role string) cacheKey {
	if scope.System {
		return cacheKey{system: true, role: role}
	}
	return cacheKey{tenantID: scope.TenantID, role: role}
}

func (e *Engine) policiesFor(ctx context.Context, scope tenant.Scope, role string) ([]Policy, error) {
	key := keyFor(scope, role)

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return cached, nil
	}

	policies, err := e.store.ActiveForRole(ctx, scope, role)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].CreatedAt.Before(policies[j].CreatedAt)
	})

	e.mu.Lock()
	e.cache[key] = policies
	e.mu.Unlock()
	return policies, nil
}

// Evaluate runs the spec.md §4.5 decision procedure: fetch active policies
// for (tenant_of(principal), role_of(principal)), walk them in priority
// order, and return the effect of the first fully-matching policy. No match
// is a default-deny.
func (e *Engine) Evaluate(ctx context.Context, scope tenant.Scope, principal identity.Identity, action, resource string, evalCtx EvalContext) (Decision, error) {
	policies, err := e.policiesFor(ctx, scope, principal.Role)
	if err != nil {
		return Decision{}, err
	}

	if evalCtx.At.IsZero() {
		evalCtx.At = time.Now()
	}

	for _, p := range policies {
		if !matchesAction(p.Rule.Actions, action) {
			continue
		}
		if !matchesResource(p.Rule.Resource, resource) {
			continue
		}
		if !matchesConditions(p.Rule.Conditions, principal, evalCtx) {
			continue
		}

		if p.Rule.Effect == EffectAllow {
			telemetry.PolicyDecisionsTotal.WithLabelValues("allow").Inc()
			return Decision{Allowed: true, PolicyID: &p.ID}, nil
		}
		telemetry.PolicyDecisionsTotal.WithLabelValues("deny").Inc()
		id := p.ID
		return Decision{Allowed: false, PolicyID: &id}, nil
	}
	telemetry.PolicyDecisionsTotal.WithLabelValues("deny").Inc()
	return Decision{Allowed: false}, nil
}

// Authorize is a convenience wrapper returning an apierr.AccessDenied when
// Evaluate denies, for handlers that want a single call.
func (e *Engine) Authorize(ctx context.Context, scope tenant.Scope, principal identity.Identity, action, resource string, evalCtx EvalContext) error {
	decision, err := e.Evaluate(ctx, scope, principal, action, resource, evalCtx)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		var policyID *string
		if decision.PolicyID != nil {
			s := decision.PolicyID.String()
			policyID = &s
		}
		return apierr.AccessDenied(principal.ID.String(), action, resource, policyID)
	}
	return nil
}

func matchesAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

func matchesResource(ruleResource, resource string) bool {
	return ruleResource == "*" || ruleResource == resource
}

func matchesConditions(c *Conditions, principal identity.Identity, evalCtx EvalContext) bool {
	if c == nil {
		return true
	}
	if len(c.Roles) > 0 && !containsString(c.Roles, principal.Role) {
		return false
	}
	if len(c.IdentityClaims) > 0 && !matchesClaims(c.IdentityClaims, principal.Claims) {
		return false
	}
	if c.TimeRestrictions != nil && !matchesTime(c.TimeRestrictions, evalCtx.At) {
		return false
	}
	if c.IPRestrictions != nil && !matchesIP(c.IPRestrictions, evalCtx.ClientIP) {
		return false
	}
	if c.ResourceConditions != nil && !matchesResourceConditions(c.ResourceConditions, evalCtx.Resource) {
		return false
	}
	return true
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func matchesClaims(required, actual map[string]any) bool {
	for k, v := range required {
		got, ok := actual[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}

func matchesTime(t *TimeRestrictions, at time.Time) bool {
	at = at.UTC()
	if len(t.TimeOfDay) > 0 {
		hour := at.Hour()
		found := false
		for _, h := range t.TimeOfDay {
			if h == hour {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(t.DaysOfWeek) > 0 {
		day := int(at.Weekday())
		found := false
		for _, d := range t.DaysOfWeek {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if t.DateRange != nil {
		if at.Before(t.DateRange.Start) || at.After(t.DateRange.End) {
			return false
		}
	}
	return true
}

func matchesIP(r *IPRestrictions, clientIP string) bool {
	if clientIP == "" {
		return false
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}

	for _, literal := range r.AllowedIPs {
		if literal == clientIP {
			return true
		}
	}
	for _, cidr := range r.AllowedRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func matchesResourceConditions(r *ResourceConditions, resourceCtx map[string]any) bool {
	if len(r.MemoryTypes) > 0 {
		v, ok := resourceCtx["memory_type"]
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok || !containsString(r.MemoryTypes, s) {
			return false
		}
	}
	for k, want := range r.MetadataRequirements {
		got, ok := resourceCtx[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
