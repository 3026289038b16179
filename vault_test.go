package aegis

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"southwinds.dev/aegis/audit"
	"southwinds.dev/aegis/persist"
)

func newTestVault(t *testing.T, clock func() time.Time) (*CredentialVault, *audit.Log) {
	t.Helper()

	engine := NewCryptoEngine()
	if err := engine.InitializeMasterKey("vault-test-password"); err != nil {
		t.Fatalf("Failed to initialize master key: %v", err)
	}
	t.Cleanup(engine.ClearSecrets)

	log := audit.New(audit.Options{Clock: clock})
	vault, err := NewCredentialVault(engine, log, VaultOptions{Clock: clock})
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}
	return vault, log
}

func TestStoreAndRetrieveCredential(t *testing.T) {
	vault, log := newTestVault(t, nil)

	secret := []byte("sk-live-abc123def456")
	id, err := vault.Store("stripe-api-key", KindAPIKey, secret,
		CredentialMetadata{Owner: "alice", Provider: "stripe", Environment: "production"}, nil, 0)
	if err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}
	if id == "" {
		t.Fatal("Store returned empty id")
	}

	// Owner reads the real value.
	value, err := vault.GetValue(id, "alice", "payment processing")
	if err != nil {
		t.Fatalf("Owner failed to read value: %v", err)
	}
	if !bytes.Equal(value, secret) {
		t.Errorf("Expected %q, got %q", secret, value)
	}

	// The masked view never carries the secret.
	masked, err := vault.Get(id, "alice")
	if err != nil {
		t.Fatalf("Owner failed to read masked view: %v", err)
	}
	if masked.MaskedValue == "" || strings.Contains(masked.MaskedValue, "abc123") {
		t.Errorf("Masked value leaks the secret: %q", masked.MaskedValue)
	}
	if masked.Name != "stripe-api-key" {
		t.Errorf("Expected name stripe-api-key, got %s", masked.Name)
	}

	// Creation and usage are both on the audit trail.
	if events := log.Query(audit.Filter{Name: "credential_created"}); len(events) != 1 {
		t.Errorf("Expected 1 credential_created event, got %d", len(events))
	}
	if events := log.Query(audit.Filter{Name: "credential_used"}); len(events) != 1 {
		t.Errorf("Expected 1 credential_used event, got %d", len(events))
	} else if events[0].Details["usage_context"] != "payment processing" {
		t.Errorf("Usage context not recorded: %v", events[0].Details)
	}
}

func TestNonOwnerAccessDenied(t *testing.T) {
	vault, log := newTestVault(t, nil)

	id, err := vault.Store("db-password", KindPassword, []byte("hunter2"),
		CredentialMetadata{Owner: "alice"}, nil, 0)
	if err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	if _, err = vault.GetValue(id, "mallory", "curiosity"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Expected ErrAccessDenied for non-owner, got %v", err)
	}
	if _, err = vault.Get(id, "mallory"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Expected ErrAccessDenied on masked view for non-owner, got %v", err)
	}
	if err = vault.Update(id, []byte("newvalue"), "mallory"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Expected ErrAccessDenied on update for non-owner, got %v", err)
	}
	if err = vault.Delete(id, "mallory"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Expected ErrAccessDenied on delete for non-owner, got %v", err)
	}

	// Every denial must be on the audit trail as a failure.
	denials := log.Query(audit.Filter{Name: "credential_access_failed"})
	if len(denials) != 4 {
		t.Errorf("Expected 4 denial events, got %d", len(denials))
	}
	for _, ev := range denials {
		if ev.Result != audit.ResultFailure {
			t.Errorf("Denial event classified %s, expected failure", ev.Result)
		}
	}
}

func TestExpiredCredential(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	vault, _ := newTestVault(t, clock)

	expiry := now.Add(time.Hour)
	id, err := vault.Store("short-lived-token", KindToken, []byte("tok-xyz"),
		CredentialMetadata{Owner: "alice"}, &expiry, 0)
	if err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	// Before expiry the value is readable.
	if _, err = vault.GetValue(id, "alice", "pre-expiry"); err != nil {
		t.Fatalf("Failed to read unexpired credential: %v", err)
	}

	now = now.Add(2 * time.Hour)

	// Past expiry GetValue fails with Expired, distinct from NotFound.
	if _, err = vault.GetValue(id, "alice", "post-expiry"); !errors.Is(err, ErrExpired) {
		t.Errorf("Expected ErrExpired, got %v", err)
	}

	// The masked view stays visible so the owner can see what to rotate.
	if _, err = vault.Get(id, "alice"); err != nil {
		t.Errorf("Masked view of expired credential failed: %v", err)
	}
}

func TestDeleteCredential(t *testing.T) {
	vault, log := newTestVault(t, nil)

	id, err := vault.Store("old-key", KindAPIKey, []byte("value"),
		CredentialMetadata{Owner: "alice"}, nil, 0)
	if err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	if err = vault.Delete(id, "alice"); err != nil {
		t.Fatalf("Failed to delete credential: %v", err)
	}
	if _, err = vault.GetValue(id, "alice", "after delete"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err = vault.Delete(id, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double delete, got %v", err)
	}
	if events := log.Query(audit.Filter{Name: "credential_deleted"}); len(events) != 1 {
		t.Errorf("Expected 1 credential_deleted event, got %d", len(events))
	}
}

func TestRotateChangesValueAndAuditTrail(t *testing.T) {
	vault, log := newTestVault(t, nil)

	id, err := vault.Store("rotating-key", KindAPIKey, []byte("v1"),
		CredentialMetadata{Owner: "alice"}, nil, 0)
	if err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	if err = vault.Rotate(id, []byte("v2"), "alice"); err != nil {
		t.Fatalf("Failed to rotate credential: %v", err)
	}

	value, err := vault.GetValue(id, "alice", "verify rotation")
	if err != nil {
		t.Fatalf("Failed to read rotated value: %v", err)
	}
	if !bytes.Equal(value, []byte("v2")) {
		t.Errorf("Expected rotated value v2, got %q", value)
	}

	// Rotation and ad-hoc update are distinct events.
	if events := log.Query(audit.Filter{Name: "credential_rotated"}); len(events) != 1 {
		t.Errorf("Expected 1 credential_rotated event, got %d", len(events))
	}
	if events := log.Query(audit.Filter{Name: "credential_updated"}); len(events) != 0 {
		t.Errorf("Expected no credential_updated events, got %d", len(events))
	}
}

func TestListReturnsOnlyOwnCredentials(t *testing.T) {
	vault, _ := newTestVault(t, nil)

	if _, err := vault.Store("alice-key", KindAPIKey, []byte("a"),
		CredentialMetadata{Owner: "alice"}, nil, 0); err != nil {
		t.Fatalf("Failed to store: %v", err)
	}
	if _, err := vault.Store("bob-key", KindAPIKey, []byte("b"),
		CredentialMetadata{Owner: "bob"}, nil, 0); err != nil {
		t.Fatalf("Failed to store: %v", err)
	}

	list := vault.List("alice")
	if len(list) != 1 {
		t.Fatalf("Expected 1 credential for alice, got %d", len(list))
	}
	if list[0].Name != "alice-key" {
		t.Errorf("Expected alice-key, got %s", list[0].Name)
	}
}

func TestRotationCandidates(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	vault, _ := newTestVault(t, clock)

	expiry := now.Add(30 * time.Minute)
	expiring, err := vault.Store("expiring", KindToken, []byte("t"),
		CredentialMetadata{Owner: "alice"}, &expiry, 0)
	if err != nil {
		t.Fatalf("Failed to store: %v", err)
	}
	stale, err := vault.Store("stale", KindAPIKey, []byte("s"),
		CredentialMetadata{Owner: "alice"}, nil, time.Hour)
	if err != nil {
		t.Fatalf("Failed to store: %v", err)
	}
	fresh, err := vault.Store("fresh", KindAPIKey, []byte("f"),
		CredentialMetadata{Owner: "alice"}, nil, 24*time.Hour)
	if err != nil {
		t.Fatalf("Failed to store: %v", err)
	}

	candidates := vault.RotationCandidates(now.Add(2 * time.Hour))
	found := map[string]bool{}
	for _, id := range candidates {
		found[id] = true
	}
	if !found[expiring] {
		t.Error("Expired credential not flagged for rotation")
	}
	if !found[stale] {
		t.Error("Credential past its rotation interval not flagged")
	}
	if found[fresh] {
		t.Error("Fresh credential flagged for rotation")
	}
}

func TestConcurrentReadDuringRotation(t *testing.T) {
	vault, _ := newTestVault(t, nil)

	id, err := vault.Store("rotating-key", KindAPIKey, []byte("value-old"),
		CredentialMetadata{Owner: "alice"}, nil, 0)
	if err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	// Readers and rotators hammer the same credential. Built to run under
	// the race detector: every read must observe a complete blob, never a
	// half-swapped one.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			value := []byte("value-" + strconv.Itoa(n))
			if err := vault.Rotate(id, value, "alice"); err != nil {
				t.Errorf("Rotate failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			value, err := vault.GetValue(id, "alice", "race-check")
			if err != nil {
				t.Errorf("GetValue failed: %v", err)
				return
			}
			if !bytes.HasPrefix(value, []byte("value-")) {
				t.Errorf("Read a corrupted value: %q", value)
			}
		}()
	}
	wg.Wait()
}

func TestConcurrentSnapshotWrites(t *testing.T) {
	engine := NewCryptoEngine()
	if err := engine.InitializeMasterKey("vault-test-password"); err != nil {
		t.Fatalf("Failed to initialize master key: %v", err)
	}
	t.Cleanup(engine.ClearSecrets)

	store, err := persist.NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	vault, err := NewCredentialVault(engine, audit.NoOp{}, VaultOptions{Store: store})
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}

	// Every mutation persists a snapshot with an optimistic version tag;
	// concurrent stores must serialize on it rather than trip over stale
	// versions.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := "cred-" + strconv.Itoa(n)
			if _, err := vault.Store(name, KindToken, []byte("tok"),
				CredentialMetadata{Owner: "alice"}, nil, 0); err != nil {
				t.Errorf("Store %s failed: %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(vault.List("alice")); got != 20 {
		t.Errorf("Expected 20 credentials, got %d", got)
	}
}

func TestStoreRequiresInitializedEngine(t *testing.T) {
	engine := NewCryptoEngine()
	vault, err := NewCredentialVault(engine, audit.NoOp{}, VaultOptions{})
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}

	_, err = vault.Store("key", KindAPIKey, []byte("v"),
		CredentialMetadata{Owner: "alice"}, nil, 0)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}
