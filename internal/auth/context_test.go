// ABOUTME: Tests for identity propagation through context
// ABOUTME: Covers the supervisor check on nil and populated identities

package auth

import (
	"context"
	"testing"

	"github.com/relayhq/livedesk/internal/store"
)

func TestWithIdentity_RoundTrip(t *testing.T) {
	id := &Identity{Username: "sam", Role: store.RoleSupervisor}
	ctx := WithIdentity(context.Background(), id)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext returned nil")
	}
	if got.Username != "sam" || got.Role != store.RoleSupervisor {
		t.Errorf("identity mismatch: %+v", got)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("expected nil for bare context, got %+v", got)
	}
}

func TestIsSupervisor(t *testing.T) {
	tests := []struct {
		name string
		id   *Identity
		want bool
	}{
		{"nil identity", nil, false},
		{"customer", &Identity{Username: "alice", Role: store.RoleCustomer}, false},
		{"agent", &Identity{Username: "dana", Role: store.RoleAgent}, false},
		{"supervisor", &Identity{Username: "sam", Role: store.RoleSupervisor}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.IsSupervisor(); got != tt.want {
				t.Errorf("IsSupervisor() = %v, want %v", got, tt.want)
			}
		})
	}
}
