package authguard

import (
	"testing"
)

func TestBuilderValidation(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	creds := newMockCredentialStore(newTestHasher(t))
	configStore := newMockConfigStore(nil)

	if _, err := New().WithConfig(validTestConfig()).Build(); err == nil {
		t.Error("missing redis client should fail")
	}

	if _, err := New().WithRedis(rdb).WithCredentialStore(creds).WithConfigStore(configStore).Build(); err == nil {
		t.Error("missing token secrets should fail validation")
	}

	if _, err := New().WithConfig(validTestConfig()).WithRedis(rdb).WithConfigStore(configStore).Build(); err == nil {
		t.Error("missing credential store should fail")
	}

	if _, err := New().WithConfig(validTestConfig()).WithRedis(rdb).WithCredentialStore(creds).Build(); err == nil {
		t.Error("missing config store should fail")
	}
}

func TestBuilderBuildsOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	b := New().
		WithConfig(validTestConfig()).
		WithRedis(rdb).
		WithCredentialStore(newMockCredentialStore(newTestHasher(t))).
		WithConfigStore(newMockConfigStore(nil))

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build on the same builder should fail")
	}
}
