// Package hugekeys loads the symmetric keys an encryptedstore.Store
// is keyed on, from either a local file or Secret Manager, and
// computes each key's fingerprint.
package hugekeys

import (
	"context"
	"fmt"
	"os"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestore/encryptedstore"
)

// KeySize is the width of a raw AES-256 key in bytes.
const KeySize = 32

// Provider resolves a key by fingerprint. The fingerprint is how a
// store's on-disk config refers to a key without holding its bytes.
type Provider interface {
	// Key returns the raw key bytes for fingerprint, or an error if
	// unknown.
	Key(ctx context.Context, fingerprint encryptedstore.KeyFingerprint) ([32]byte, error)
}

// FileProvider loads keys from files in a directory, one file per
// key named by the key's own fingerprint in hex, containing the raw
// 32 key bytes.
type FileProvider struct {
	dir string
}

// NewFileProvider constructs a FileProvider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) Key(_ context.Context, fingerprint encryptedstore.KeyFingerprint) ([32]byte, error) {
	path := p.dir + "/" + fingerprint.Hex()

	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("reading key file %s: %w", path, err)
	}
	if len(data) != KeySize {
		return [32]byte{}, fmt.Errorf("key file %s has length %d, want %d", path, len(data), KeySize)
	}

	var key [32]byte
	copy(key[:], data)

	if got := encryptedstore.Fingerprint(key); got != fingerprint {
		return [32]byte{}, fmt.Errorf("key file %s does not match its own fingerprint", path)
	}

	return key, nil
}

// LoadAndFingerprint reads a raw key from path and returns both the
// key bytes and its fingerprint, for use at mount time when wiring an
// encryptedstore.Store around a key supplied directly by path rather
// than by fingerprint lookup.
func LoadAndFingerprint(path string) ([32]byte, hugehash.Hash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, hugehash.Hash{}, fmt.Errorf("reading key file %s: %w", path, err)
	}
	if len(data) != KeySize {
		return [32]byte{}, hugehash.Hash{}, fmt.Errorf("key file %s has length %d, want %d", path, len(data), KeySize)
	}

	var key [32]byte
	copy(key[:], data)
	return key, encryptedstore.Fingerprint(key), nil
}

// SecretManagerProvider resolves keys from Google Secret Manager,
// addressing each key by a resource-name template with "%s" replaced
// by the fingerprint's hex form (e.g.
// "projects/p/secrets/hugefs-key-%s/versions/latest").
type SecretManagerProvider struct {
	client         *secretmanager.Client
	resourceFormat string
}

// NewSecretManagerProvider constructs a SecretManagerProvider using
// application-default credentials.
func NewSecretManagerProvider(ctx context.Context, resourceFormat string) (*SecretManagerProvider, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Secret Manager client: %w", err)
	}
	return &SecretManagerProvider{client: client, resourceFormat: resourceFormat}, nil
}

func (p *SecretManagerProvider) Key(ctx context.Context, fingerprint encryptedstore.KeyFingerprint) ([32]byte, error) {
	name := fmt.Sprintf(p.resourceFormat, fingerprint.Hex())

	resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return [32]byte{}, fmt.Errorf("accessing secret %s: %w", name, err)
	}

	data := resp.Payload.Data
	if len(data) != KeySize {
		return [32]byte{}, fmt.Errorf("secret %s has length %d, want %d", name, len(data), KeySize)
	}

	var key [32]byte
	copy(key[:], data)

	if got := encryptedstore.Fingerprint(key); got != fingerprint {
		return [32]byte{}, fmt.Errorf("secret %s does not match its own fingerprint", name)
	}

	return key, nil
}

// Close releases the Secret Manager client's underlying connection.
func (p *SecretManagerProvider) Close() error {
	return p.client.Close()
}

// CanAccess reports whether the caller's credentials are granted
// roles/secretmanager.secretAccessor on the secret backing
// fingerprint, without actually reading its payload.
func (p *SecretManagerProvider) CanAccess(ctx context.Context, fingerprint encryptedstore.KeyFingerprint) (bool, error) {
	secretName := secretPathFromVersionName(fmt.Sprintf(p.resourceFormat, fingerprint.Hex()))

	granted, err := p.client.IAM(secretName).TestPermissions(ctx, []string{"secretmanager.versions.access"})
	if err != nil {
		return false, fmt.Errorf("testing IAM permissions on %s: %w", secretName, err)
	}
	return len(granted) > 0, nil
}

// secretPathFromVersionName strips a trailing "/versions/..." segment
// from a secret version resource name, since IAM permissions are
// tested against the secret, not a specific version.
func secretPathFromVersionName(name string) string {
	if idx := strings.Index(name, "/versions/"); idx >= 0 {
		return name[:idx]
	}
	return name
}
