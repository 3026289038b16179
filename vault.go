package aegis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"southwinds.dev/aegis/audit"
	"southwinds.dev/aegis/internal/crypto"
	"southwinds.dev/aegis/persist"
)

// snapshotName is the persistence key for the encrypted credential map.
const snapshotName = "credentials"

// persistPurpose binds the snapshot encryption key to its use.
const persistPurpose = "aegis/persist/credentials"

// CredentialVault stores credentials encrypted with the crypto engine's
// master key and enforces owner-only access control. Every mutation and every
// read of a secret value is mirrored into the audit log synchronously, before
// the call returns: callers may assume the trail is complete at the point of
// response.
//
// The decrypted value is never cached. It is reconstructed per authorized
// GetValue call and handed to the caller; the vault keeps only the
// EncryptedBlob.
//
// Access control is owner-only equality on Metadata.Owner. Role or
// permission based sharing is a deliberate extension point, not implemented.
type CredentialVault struct {
	mu     sync.RWMutex
	engine *CryptoEngine
	audit  audit.Recorder
	creds  map[string]*Credential

	// persistMu serializes snapshot writes and guards storeVersion, so
	// concurrent mutations cannot interleave store calls or trade stale
	// version tags.
	persistMu    sync.Mutex
	store        persist.Store
	storeVersion string

	clock func() time.Time
}

// VaultOptions configures a CredentialVault.
type VaultOptions struct {
	// Store optionally persists the encrypted credential map across
	// restarts. The serialized layout keeps the field sets stable for
	// compliance export.
	Store persist.Store

	// Clock is the time source; time.Now when nil.
	Clock func() time.Time
}

// NewCredentialVault builds a vault on top of an engine and an audit
// recorder. When a store is configured and holds a previous snapshot, the
// engine must already be initialized so the snapshot can be decrypted.
func NewCredentialVault(engine *CryptoEngine, rec audit.Recorder, opts VaultOptions) (*CredentialVault, error) {
	if engine == nil {
		return nil, errors.New("nil crypto engine")
	}
	if rec == nil {
		rec = audit.NoOp{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	v := &CredentialVault{
		engine: engine,
		audit:  rec,
		creds:  make(map[string]*Credential),
		store:  opts.Store,
		clock:  opts.Clock,
	}

	if v.store != nil {
		if err := v.loadSnapshot(); err != nil {
			return nil, fmt.Errorf("failed to load credential snapshot: %w", err)
		}
	}

	return v, nil
}

// Store encrypts value and persists a new credential owned by
// metadata.Owner. Returns the generated id. Fails with ErrNotInitialized
// when the engine's master key is not set.
func (v *CredentialVault) Store(name string, kind CredentialKind, value []byte, metadata CredentialMetadata, expiresAt *time.Time, rotationInterval time.Duration) (string, error) {
	if name == "" {
		return "", errors.New("empty credential name")
	}
	if _, ok := validKinds[kind]; !ok {
		return "", fmt.Errorf("unknown credential kind: %s", kind)
	}
	if len(value) == 0 {
		return "", errors.New("empty credential value")
	}
	if metadata.Owner == "" {
		return "", errors.New("credential owner is required")
	}
	if !v.engine.Initialized() {
		return "", ErrNotInitialized
	}

	// Encryption happens outside the vault lock; only the map insert is
	// guarded.
	blob, err := v.engine.Encrypt(value, nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := v.clock().UTC()
	cred := &Credential{
		ID:               uuid.NewString(),
		Name:             name,
		Kind:             kind,
		Encrypted:        blob,
		Metadata:         copyMetadata(metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
		RotationInterval: rotationInterval,
	}
	if expiresAt != nil {
		t := expiresAt.UTC()
		cred.ExpiresAt = &t
	}

	v.mu.Lock()
	v.creds[cred.ID] = cred
	v.mu.Unlock()

	v.audit.Record(audit.Entry{
		Name:         "credential_created",
		UserID:       metadata.Owner,
		ResourceType: "credential",
		ResourceID:   cred.ID,
		Details: map[string]any{
			"name": name,
			"kind": string(kind),
		},
	})

	if err := v.saveSnapshot(); err != nil {
		return "", err
	}
	return cred.ID, nil
}

// Get returns the masked view of a credential. Only the owner may read it;
// any other caller gets ErrAccessDenied and the denial is audited.
func (v *CredentialVault) Get(id, callerID string) (MaskedCredential, error) {
	v.mu.RLock()
	cred, ok := v.creds[id]
	var owner string
	var masked MaskedCredential
	if ok {
		owner = cred.Metadata.Owner
		masked = cred.masked()
	}
	v.mu.RUnlock()

	if !ok {
		return MaskedCredential{}, ErrNotFound
	}
	if owner != callerID {
		v.auditDenied(id, callerID, "get")
		return MaskedCredential{}, ErrAccessDenied
	}
	return masked, nil
}

// GetValue decrypts and returns the real secret. The caller must be the
// owner and the credential must not be expired. On success LastUsedAt is
// bumped and a credential_used event carrying usageContext is recorded.
func (v *CredentialVault) GetValue(id, callerID, usageContext string) ([]byte, error) {
	// Capture the fields needed for the checks and the decrypt while the
	// lock is held: a concurrent Rotate swaps cred.Encrypted for a new blob
	// and must not be observed mid-write. Blobs are immutable once
	// assigned, so holding the pointer after unlock is safe.
	v.mu.RLock()
	cred, ok := v.creds[id]
	var owner string
	var blob *EncryptedBlob
	var expiresAt *time.Time
	if ok {
		owner = cred.Metadata.Owner
		blob = cred.Encrypted
		if cred.ExpiresAt != nil {
			t := *cred.ExpiresAt
			expiresAt = &t
		}
	}
	v.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if owner != callerID {
		v.auditDenied(id, callerID, "get_value")
		return nil, ErrAccessDenied
	}

	now := v.clock().UTC()
	if expiresAt != nil && now.After(*expiresAt) {
		v.audit.Record(audit.Entry{
			Name:         "credential_read_failed",
			UserID:       callerID,
			ResourceType: "credential",
			ResourceID:   id,
			Details:      map[string]any{"error": "credential expired"},
		})
		return nil, ErrExpired
	}

	plaintext, err := v.engine.Decrypt(blob, nil)
	if err != nil {
		v.audit.Record(audit.Entry{
			Name:         "credential_read_failed",
			UserID:       callerID,
			ResourceType: "credential",
			ResourceID:   id,
			Details:      map[string]any{"error": err.Error()},
		})
		if errors.Is(err, ErrNotInitialized) {
			return nil, err
		}
		return nil, ErrDecryptionFailed
	}

	v.mu.Lock()
	cred.LastUsedAt = &now
	v.mu.Unlock()

	v.audit.Record(audit.Entry{
		Name:         "credential_used",
		UserID:       callerID,
		ResourceType: "credential",
		ResourceID:   id,
		Details:      map[string]any{"usage_context": usageContext},
	})

	if err := v.saveSnapshot(); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Update re-encrypts the credential with a fresh salt and nonce and bumps
// UpdatedAt.
func (v *CredentialVault) Update(id string, newValue []byte, callerID string) error {
	return v.replaceValue(id, newValue, callerID, "credential_updated")
}

// Rotate is Update with a distinct audit event, so rotation compliance can
// be queried separately from ad-hoc edits.
func (v *CredentialVault) Rotate(id string, newValue []byte, callerID string) error {
	return v.replaceValue(id, newValue, callerID, "credential_rotated")
}

func (v *CredentialVault) replaceValue(id string, newValue []byte, callerID, eventName string) error {
	if len(newValue) == 0 {
		return errors.New("empty credential value")
	}

	v.mu.RLock()
	cred, ok := v.creds[id]
	var owner string
	if ok {
		owner = cred.Metadata.Owner
	}
	v.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	if owner != callerID {
		v.auditDenied(id, callerID, "update")
		return ErrAccessDenied
	}
	if !v.engine.Initialized() {
		return ErrNotInitialized
	}

	blob, err := v.engine.Encrypt(newValue, nil)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := v.clock().UTC()
	v.mu.Lock()
	cred.Encrypted = blob
	cred.UpdatedAt = now
	v.mu.Unlock()

	v.audit.Record(audit.Entry{
		Name:         eventName,
		UserID:       callerID,
		ResourceType: "credential",
		ResourceID:   id,
	})

	return v.saveSnapshot()
}

// Delete removes a credential. Deleting an unknown id fails with
// ErrNotFound.
func (v *CredentialVault) Delete(id, callerID string) error {
	v.mu.RLock()
	cred, ok := v.creds[id]
	var owner, name string
	if ok {
		owner = cred.Metadata.Owner
		name = cred.Name
	}
	v.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	if owner != callerID {
		v.auditDenied(id, callerID, "delete")
		return ErrAccessDenied
	}

	v.mu.Lock()
	delete(v.creds, id)
	v.mu.Unlock()

	v.audit.Record(audit.Entry{
		Name:         "credential_deleted",
		UserID:       callerID,
		ResourceType: "credential",
		ResourceID:   id,
		Details:      map[string]any{"name": name},
	})

	return v.saveSnapshot()
}

// List returns the masked views of every credential owned by callerID,
// never anyone else's.
func (v *CredentialVault) List(callerID string) []MaskedCredential {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []MaskedCredential
	for _, cred := range v.creds {
		if cred.Metadata.Owner == callerID {
			out = append(out, cred.masked())
		}
	}
	return out
}

// RotationCandidates returns the ids of credentials that are expired at now,
// or whose rotation interval has elapsed since last use (creation when never
// used). Intended for an external scheduler; the vault never calls it.
func (v *CredentialVault) RotationCandidates(now time.Time) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []string
	for id, cred := range v.creds {
		if cred.ExpiresAt != nil && !cred.ExpiresAt.After(now) {
			out = append(out, id)
			continue
		}
		if cred.RotationInterval > 0 {
			base := cred.CreatedAt
			if cred.LastUsedAt != nil {
				base = *cred.LastUsedAt
			}
			if !base.Add(cred.RotationInterval).After(now) {
				out = append(out, id)
			}
		}
	}
	return out
}

func (v *CredentialVault) auditDenied(id, callerID, op string) {
	v.audit.Record(audit.Entry{
		Name:         "credential_access_failed",
		UserID:       callerID,
		ResourceType: "credential",
		ResourceID:   id,
		Details: map[string]any{
			"error":     "access denied",
			"operation": op,
		},
	})
}

// credentialSnapshot is the serialized persistence layout. The field sets of
// Credential and EncryptedBlob are part of the compliance export contract and
// must stay stable across restarts.
type credentialSnapshot struct {
	Version     int           `json:"version"`
	Credentials []*Credential `json:"credentials"`
}

// saveSnapshot serializes the credential map under the read lock, encrypts
// it with a persistence key derived from the master key and writes it to the
// store. No I/O happens while the credential lock is held; persistMu keeps
// concurrent callers from racing on the store version tag.
func (v *CredentialVault) saveSnapshot() error {
	if v.store == nil {
		return nil
	}

	v.persistMu.Lock()
	defer v.persistMu.Unlock()

	v.mu.RLock()
	snap := credentialSnapshot{Version: 1, Credentials: make([]*Credential, 0, len(v.creds))}
	for _, cred := range v.creds {
		snap.Credentials = append(snap.Credentials, cred)
	}
	data, err := json.Marshal(snap)
	v.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var encrypted []byte
	err = v.engine.withMasterKey(func(master []byte) error {
		persistKey, derr := v.engine.DeriveNamedKey(master, persistPurpose, nil)
		if derr != nil {
			return derr
		}
		encrypted, derr = crypto.EncryptValue(data, persistKey)
		return derr
	})
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	version, err := v.store.SaveSnapshot(snapshotName, encrypted, v.storeVersion)
	if err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	v.storeVersion = version
	return nil
}

func (v *CredentialVault) loadSnapshot() error {
	exists, err := v.store.SnapshotExists(snapshotName)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if !v.engine.Initialized() {
		return ErrNotInitialized
	}

	versioned, err := v.store.LoadSnapshot(snapshotName)
	if err != nil {
		return err
	}

	var data []byte
	err = v.engine.withMasterKey(func(master []byte) error {
		persistKey, derr := v.engine.DeriveNamedKey(master, persistPurpose, nil)
		if derr != nil {
			return derr
		}
		data, derr = crypto.DecryptValue(versioned.Data, persistKey)
		return derr
	})
	if err != nil {
		return fmt.Errorf("failed to decrypt snapshot: %w", err)
	}

	var snap credentialSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}

	v.mu.Lock()
	for _, cred := range snap.Credentials {
		v.creds[cred.ID] = cred
	}
	v.mu.Unlock()

	v.persistMu.Lock()
	v.storeVersion = versioned.Version
	v.persistMu.Unlock()

	return nil
}
