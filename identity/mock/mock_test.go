package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/embercloud/oauth/identity"
)

func TestResolver(t *testing.T) {
	ctx := context.Background()
	r := New()

	if _, err := r.ResolveActiveUser(ctx, "absent"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("ResolveActiveUser() error = %v, want ErrUserNotFound", err)
	}

	r.AddUser(&identity.User{ID: "u1", Email: "u1@example.com"})

	user, err := r.ResolveActiveUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ResolveActiveUser() error = %v", err)
	}
	if user.Email != "u1@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "u1@example.com")
	}

	// Returned user is a copy
	user.Email = "mutated"
	again, err := r.ResolveActiveUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ResolveActiveUser() error = %v", err)
	}
	if again.Email != "u1@example.com" {
		t.Error("stored user mutated through the returned copy")
	}

	r.RemoveUser("u1")
	if _, err := r.ResolveActiveUser(ctx, "u1"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("ResolveActiveUser() after removal = %v, want ErrUserNotFound", err)
	}
}
