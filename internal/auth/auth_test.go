package auth

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestCheckAdminToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}
	if !CheckAdminToken(string(hash), "letmein") {
		t.Fatal("expected matching token to pass")
	}
	if CheckAdminToken(string(hash), "wrong") {
		t.Fatal("expected mismatched token to fail")
	}
	if CheckAdminToken("", "letmein") {
		t.Fatal("expected empty hash to disable admin access")
	}
	if CheckAdminToken(string(hash), "") {
		t.Fatal("expected empty token to fail")
	}
}

func TestVerifyCache(t *testing.T) {
	c := NewSupabaseClient("https://example.test", "anon")
	if _, ok := c.cachedVerify("tok"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.storeVerify("tok", SupabaseUser{ID: "u1", Email: "u1@example.test"})
	user, ok := c.cachedVerify("tok")
	if !ok || user.ID != "u1" {
		t.Fatalf("expected cached user u1, got ok=%v user=%+v", ok, user)
	}

	c.mu.Lock()
	c.verified["tok"] = cachedUser{user: user, expiresAt: time.Now().Add(-time.Second)}
	c.mu.Unlock()
	if _, ok := c.cachedVerify("tok"); ok {
		t.Fatal("expected expired entry to miss")
	}
}
