package auth

import (
	"context"
	"testing"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{
		Username: "alice",
		IsDemo:   false,
	}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q, want %q", got.Username, "alice")
	}
	if got.IsDemo {
		t.Error("IsDemo = true, want false")
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestOwner(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Username: "bob"})
	if got := Owner(ctx); got != "bob" {
		t.Errorf("Owner = %q, want %q", got, "bob")
	}
}

func TestOwnerMissing(t *testing.T) {
	if got := Owner(context.Background()); got != "" {
		t.Errorf("Owner = %q, want empty", got)
	}
}

func TestIsDemo(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Username: "demo", IsDemo: true})
	if !IsDemo(ctx) {
		t.Error("expected demo")
	}
	if IsDemo(context.Background()) {
		t.Error("expected not demo without auth")
	}
}
