package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestScopeAllows(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()

	tests := []struct {
		name      string
		scope     Scope
		rowTenant uuid.UUID
		want      bool
	}{
		{"tenant scope sees own rows", TenantScope(tenantA), tenantA, true},
		{"tenant scope cannot see other tenant", TenantScope(tenantA), tenantB, false},
		{"tenant scope sees system-global rows", TenantScope(tenantA), uuid.Nil, true},
		{"system scope sees everything", SystemScope(), tenantA, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Allows(tt.rowTenant); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopeCanWriteAs(t *testing.T) {
	tenantA := uuid.New()

	if !TenantScope(tenantA).CanWriteAs(tenantA) {
		t.Error("tenant scope should write its own rows")
	}
	if TenantScope(tenantA).CanWriteAs(uuid.Nil) {
		t.Error("tenant scope must not write system-global rows")
	}
	if !SystemScope().CanWriteAs(uuid.Nil) {
		t.Error("system scope should write system-global rows")
	}
	if SystemScope().CanWriteAs(tenantA) {
		t.Error("system scope must not write tenant-owned rows")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := FromContext(ctx); !got.System {
		t.Fatalf("expected default system scope, got %+v", got)
	}

	tenantID := uuid.New()
	ctx = NewContext(ctx, TenantScope(tenantID))

	got := FromContext(ctx)
	if got.System || got.TenantID != tenantID {
		t.Fatalf("FromContext() = %+v, want tenant scope %s", got, tenantID)
	}
}
