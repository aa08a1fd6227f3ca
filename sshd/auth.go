package sshd

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gossh "golang.org/x/crypto/ssh"
)

// AuthPolicy decides whether an offered public key is accepted for a given
// SSH user. The zero value accepts any key (every new key is treated as a
// new identity); callers that want allowlisting should point
// AuthorizedKeysPath at an authorized_keys file or directory, or set
// Authorize to a custom callback.
type AuthPolicy struct {
	// AuthorizedKeysPath, if set, restricts accepted keys to those listed
	// in the file (or, if a directory, the union of all files in it).
	AuthorizedKeysPath string

	// AllowAnonymous enables the "none" auth method. Anonymous logins are
	// rejected unless this is explicitly set to true.
	AllowAnonymous bool

	// Authorize, if set, overrides the authorized-keys check entirely.
	Authorize func(user string, key gossh.PublicKey) bool
}

// publicKeyCallback builds the gossh.ServerConfig callback for this policy.
// Returns nil if the policy has no way to authorize any key.
func (p AuthPolicy) publicKeyCallback() func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
	if p.Authorize != nil {
		authorize := p.Authorize
		return func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if authorize(conn.User(), key) {
				return permissionsForKey(key), nil
			}
			return nil, fmt.Errorf("public key rejected for user %s", conn.User())
		}
	}

	if p.AuthorizedKeysPath == "" {
		// No allowlist and no custom policy: accept any offered key. This
		// is still not anonymous access — a key must be presented.
		return func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			return permissionsForKey(key), nil
		}
	}

	authorizedKeys, err := loadAuthorizedKeys(p.AuthorizedKeysPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load authorized keys from %s: %v\n", p.AuthorizedKeysPath, err)
		return nil
	}
	if len(authorizedKeys) == 0 {
		fmt.Fprintf(os.Stderr, "Warning: No authorized keys found in %s\n", p.AuthorizedKeysPath)
		return nil
	}

	return func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
		for _, authorizedKey := range authorizedKeys {
			if gossh.KeysEqual(key, authorizedKey) {
				return permissionsForKey(key), nil
			}
		}
		return nil, fmt.Errorf("public key rejected for user %s", conn.User())
	}
}

// pubKeyExtension is the Permissions.Extensions key the marshaled public
// key is stashed under, so later stages (the channel handler building a
// NewSessionEvent) can recover the identity that authenticated the
// connection without re-deriving it from the wire.
const pubKeyExtension = "pubkey-sha256"

func permissionsForKey(key gossh.PublicKey) *gossh.Permissions {
	return &gossh.Permissions{
		Extensions: map[string]string{pubKeyExtension: string(key.Marshal())},
	}
}

// permissionsPublicKey recovers the public key stashed by permissionsForKey,
// or nil if none was recorded (anonymous connections have none).
func permissionsPublicKey(perm *gossh.Permissions) gossh.PublicKey {
	if perm == nil {
		return nil
	}
	raw, ok := perm.Extensions[pubKeyExtension]
	if !ok {
		return nil
	}
	key, err := gossh.ParsePublicKey([]byte(raw))
	if err != nil {
		return nil
	}
	return key
}

// loadAuthorizedKeys loads public keys from an authorized_keys file or directory.
func loadAuthorizedKeys(path string) ([]gossh.PublicKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return loadAuthorizedKeysFromDir(path)
	}
	return loadAuthorizedKeysFromFile(path)
}

// loadAuthorizedKeysFromFile loads public keys from a single authorized_keys file.
func loadAuthorizedKeysFromFile(path string) ([]gossh.PublicKey, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var keys []gossh.PublicKey
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			continue // skip invalid lines
		}
		keys = append(keys, key)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

// loadAuthorizedKeysFromDir loads public keys from every non-hidden file in
// a directory, without recursing into subdirectories.
func loadAuthorizedKeysFromDir(dir string) ([]gossh.PublicKey, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var keys []gossh.PublicKey
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		filePath := filepath.Join(dir, name)
		fileKeys, err := loadAuthorizedKeysFromFile(filePath)
		if err != nil {
			continue
		}
		keys = append(keys, fileKeys...)
	}

	return keys, nil
}

// LoadOrGenerateHostKey returns the ed25519 host key signer at path,
// creating one if it doesn't exist yet.
func LoadOrGenerateHostKey(path string) (gossh.Signer, error) {
	if _, err := os.Stat(path); err == nil {
		return loadHostKey(path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return generateHostKey(path)
}

// LoadOrGenerateRSAHostKey returns the RSA host key signer at path,
// creating one (4096-bit) if it doesn't exist yet. Offering both an RSA
// and an Ed25519 host key lets a server support legacy clients that don't
// implement Ed25519.
func LoadOrGenerateRSAHostKey(path string) (gossh.Signer, error) {
	if _, err := os.Stat(path); err == nil {
		return loadHostKey(path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return generateRSAHostKey(path)
}

func loadHostKey(path string) (gossh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	signer, err := gossh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host key: %w", err)
	}

	return signer, nil
}

func generateHostKey(path string) (gossh.Signer, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	pemBlock, err := gossh.MarshalPrivateKey(privateKey, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	pemData := pem.EncodeToMemory(pemBlock)

	if err := os.WriteFile(path, pemData, 0600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}

	signer, err := gossh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return signer, nil
}
