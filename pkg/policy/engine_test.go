package policy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/tenant"
)

func TestMatchesAction(t *testing.T) {
	if !matchesAction([]string{"*"}, "memory.read") {
		t.Error("wildcard action should match anything")
	}
	if !matchesAction([]string{"memory.read", "memory.write"}, "memory.write") {
		t.Error("exact action should match")
	}
	if matchesAction([]string{"memory.read"}, "memory.write") {
		t.Error("non-matching action should not match")
	}
}

func TestMatchesResource(t *testing.T) {
	if !matchesResource("*", "memory") {
		t.Error("wildcard resource should match anything")
	}
	if matchesResource("memory", "policy") {
		t.Error("non-matching resource should not match")
	}
}

func TestMatchesConditionsRoles(t *testing.T) {
	c := &Conditions{Roles: []string{"admin", "system"}}
	if !matchesConditions(c, identity.Identity{Role: "admin"}, EvalContext{At: time.Now()}) {
		t.Error("principal with a listed role should match")
	}
	if matchesConditions(c, identity.Identity{Role: "viewer"}, EvalContext{At: time.Now()}) {
		t.Error("principal with an unlisted role should not match")
	}
}

func TestMatchesConditionsIdentityClaims(t *testing.T) {
	c := &Conditions{IdentityClaims: map[string]any{"team": "payments"}}
	principal := identity.Identity{Claims: map[string]any{"team": "payments", "extra": true}}
	if !matchesConditions(c, principal, EvalContext{At: time.Now()}) {
		t.Error("matching claim should satisfy the condition")
	}

	principal.Claims["team"] = "infra"
	if matchesConditions(c, principal, EvalContext{At: time.Now()}) {
		t.Error("mismatched claim should fail the condition")
	}
}

func TestMatchesConditionsTimeOfDay(t *testing.T) {
	c := &Conditions{TimeRestrictions: &TimeRestrictions{TimeOfDay: []int{9, 10, 11}}}
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if !matchesConditions(c, identity.Identity{}, EvalContext{At: at}) {
		t.Error("hour within time_of_day should match")
	}

	at = time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	if matchesConditions(c, identity.Identity{}, EvalContext{At: at}) {
		t.Error("hour outside time_of_day should not match")
	}
}

func TestMatchesConditionsIPRestrictions(t *testing.T) {
	c := &Conditions{IPRestrictions: &IPRestrictions{AllowedRanges: []string{"10.0.0.0/8"}}}
	if !matchesConditions(c, identity.Identity{}, EvalContext{At: time.Now(), ClientIP: "10.1.2.3"}) {
		t.Error("IP within allowed CIDR should match")
	}
	if matchesConditions(c, identity.Identity{}, EvalContext{At: time.Now(), ClientIP: "192.168.1.1"}) {
		t.Error("IP outside allowed CIDR should not match")
	}
}

func TestMatchesResourceConditionsMissingKeyFails(t *testing.T) {
	c := &ResourceConditions{MemoryTypes: []string{"fact"}}
	if matchesResourceConditions(c, map[string]any{}) {
		t.Error("a missing required key must fail the condition (spec: missing -> fail)")
	}
	if !matchesResourceConditions(c, map[string]any{"memory_type": "fact"}) {
		t.Error("a present matching key should satisfy the condition")
	}
}

func TestEngineEvaluatePriorityOrderAndDefaultDeny(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	allow := Policy{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Priority: 10, CreatedAt: now, Rule: Rule{Actions: []string{"*"}, Resource: "*", Effect: EffectAllow}}
	deny := Policy{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), Priority: 20, CreatedAt: now, Rule: Rule{Actions: []string{"*"}, Resource: "*", Effect: EffectDeny}}

	e := &Engine{cache: map[cacheKey][]Policy{}}
	e.cache[cacheKey{system: true, role: "admin"}] = []Policy{deny, allow} // already priority-sorted
	e.cache[cacheKey{system: true, role: "viewer"}] = []Policy{}           // no policies at all for this role

	ctx := context.Background()
	decision, err := e.Evaluate(ctx, tenant.SystemScope(), identity.Identity{Role: "admin"}, "memory.read", "memory", EvalContext{At: now})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Allowed {
		t.Error("higher-priority deny policy should win over a lower-priority allow")
	}

	decision, err = e.Evaluate(ctx, tenant.SystemScope(), identity.Identity{Role: "viewer"}, "memory.read", "memory", EvalContext{At: now})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Allowed {
		t.Error("a role with no cached policies should default-deny")
	}
}
