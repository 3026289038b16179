package aegis

import "time"

// CredentialKind identifies what a stored secret is.
type CredentialKind string

const (
	KindAPIKey      CredentialKind = "api_key"
	KindToken       CredentialKind = "token"
	KindPassword    CredentialKind = "password"
	KindCertificate CredentialKind = "certificate"
	KindSSHKey      CredentialKind = "ssh_key"
)

// validKinds gates Store input.
var validKinds = map[CredentialKind]struct{}{
	KindAPIKey:      {},
	KindToken:       {},
	KindPassword:    {},
	KindCertificate: {},
	KindSSHKey:      {},
}

// CredentialMetadata holds the unencrypted descriptive fields of a
// credential. Owner is the access-control anchor: it is the only identity
// allowed to read or mutate the credential.
type CredentialMetadata struct {
	Provider    string   `json:"provider,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Owner       string   `json:"owner"`
}

// Credential is the vault-internal record. The secret value exists only as
// an EncryptedBlob; the decrypted form is reconstructed per authorized read
// and discarded. This type never leaves the vault: callers receive
// MaskedCredential (metadata view) or the raw plaintext (GetValue), never
// both in one value.
type Credential struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Kind             CredentialKind     `json:"kind"`
	Encrypted        *EncryptedBlob     `json:"encrypted_value"`
	Metadata         CredentialMetadata `json:"metadata"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	LastUsedAt       *time.Time         `json:"last_used_at,omitempty"`
	RotationInterval time.Duration      `json:"rotation_interval,omitempty"`
}

// MaskedCredential is the display-safe view of a credential. It has no field
// that could carry the secret: the capability split between Get and GetValue
// is enforced by the type, not by convention.
type MaskedCredential struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Kind             CredentialKind     `json:"kind"`
	MaskedValue      string             `json:"masked_value"`
	Metadata         CredentialMetadata `json:"metadata"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	LastUsedAt       *time.Time         `json:"last_used_at,omitempty"`
	RotationInterval time.Duration      `json:"rotation_interval,omitempty"`
}

// maskFor returns the kind-specific placeholder substituted for the secret in
// display views. Fixed-length so nothing about the real value leaks, not even
// its size.
func maskFor(kind CredentialKind) string {
	switch kind {
	case KindAPIKey:
		return "ak_****************"
	case KindToken:
		return "tok_***************"
	case KindPassword:
		return "****************"
	case KindCertificate:
		return "-----MASKED CERTIFICATE-----"
	case KindSSHKey:
		return "-----MASKED PRIVATE KEY-----"
	default:
		return "****************"
	}
}

func (c *Credential) masked() MaskedCredential {
	m := MaskedCredential{
		ID:               c.ID,
		Name:             c.Name,
		Kind:             c.Kind,
		MaskedValue:      maskFor(c.Kind),
		Metadata:         copyMetadata(c.Metadata),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		RotationInterval: c.RotationInterval,
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		m.ExpiresAt = &t
	}
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		m.LastUsedAt = &t
	}
	return m
}

func copyMetadata(md CredentialMetadata) CredentialMetadata {
	out := md
	out.Permissions = append([]string(nil), md.Permissions...)
	out.Tags = append([]string(nil), md.Tags...)
	return out
}
