package sshd

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

func newTestKey(t *testing.T) gossh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	sshPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to create SSH public key: %v", err)
	}
	return sshPub
}

func TestLoadAuthorizedKeysFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	key := newTestKey(t)
	authorizedKey := string(gossh.MarshalAuthorizedKey(key))

	t.Run("loads valid authorized_keys file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "authorized_keys")
		content := "# comment\n" + authorizedKey + "\n# another comment\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		keys, err := loadAuthorizedKeysFromFile(path)
		if err != nil {
			t.Fatalf("loadAuthorizedKeysFromFile failed: %v", err)
		}
		if len(keys) != 1 {
			t.Errorf("expected 1 key, got %d", len(keys))
		}
	})

	t.Run("skips invalid lines", func(t *testing.T) {
		path := filepath.Join(tmpDir, "authorized_keys2")
		content := "invalid line\n" + authorizedKey + "\nanother invalid\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		keys, err := loadAuthorizedKeysFromFile(path)
		if err != nil {
			t.Fatalf("loadAuthorizedKeysFromFile failed: %v", err)
		}
		if len(keys) != 1 {
			t.Errorf("expected 1 key, got %d", len(keys))
		}
	})

	t.Run("returns error for nonexistent file", func(t *testing.T) {
		if _, err := loadAuthorizedKeysFromFile("/nonexistent/file"); err == nil {
			t.Error("expected error for nonexistent file")
		}
	})
}

func TestLoadAuthorizedKeysFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	key1 := newTestKey(t)
	key2 := newTestKey(t)

	os.WriteFile(filepath.Join(tmpDir, "user1.pub"), gossh.MarshalAuthorizedKey(key1), 0644)
	os.WriteFile(filepath.Join(tmpDir, "user2.pub"), gossh.MarshalAuthorizedKey(key2), 0644)
	os.WriteFile(filepath.Join(tmpDir, ".hidden"), gossh.MarshalAuthorizedKey(key1), 0644)

	keys, err := loadAuthorizedKeysFromDir(tmpDir)
	if err != nil {
		t.Fatalf("loadAuthorizedKeysFromDir failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys (hidden file skipped), got %d", len(keys))
	}
}

func TestAuthPolicyPublicKeyCallback(t *testing.T) {
	t.Run("custom Authorize overrides allowlist", func(t *testing.T) {
		key := newTestKey(t)
		policy := AuthPolicy{Authorize: func(user string, k gossh.PublicKey) bool {
			return user == "alice"
		}}
		cb := policy.publicKeyCallback()
		if cb == nil {
			t.Fatal("expected non-nil callback")
		}
		if _, err := cb(fakeConnMetadata{user: "alice"}, key); err != nil {
			t.Errorf("expected alice to be authorized, got %v", err)
		}
		if _, err := cb(fakeConnMetadata{user: "mallory"}, key); err == nil {
			t.Error("expected mallory to be rejected")
		}
	})

	t.Run("no allowlist accepts any key", func(t *testing.T) {
		policy := AuthPolicy{}
		cb := policy.publicKeyCallback()
		if cb == nil {
			t.Fatal("expected non-nil callback")
		}
		key := newTestKey(t)
		if _, err := cb(fakeConnMetadata{user: "anyone"}, key); err != nil {
			t.Errorf("expected any key to be accepted, got %v", err)
		}
	})

	t.Run("allowlist rejects unknown keys", func(t *testing.T) {
		tmpDir := t.TempDir()
		allowed := newTestKey(t)
		path := filepath.Join(tmpDir, "authorized_keys")
		os.WriteFile(path, gossh.MarshalAuthorizedKey(allowed), 0644)

		policy := AuthPolicy{AuthorizedKeysPath: path}
		cb := policy.publicKeyCallback()
		if cb == nil {
			t.Fatal("expected non-nil callback")
		}

		if _, err := cb(fakeConnMetadata{user: "bob"}, allowed); err != nil {
			t.Errorf("expected allowed key to pass, got %v", err)
		}

		other := newTestKey(t)
		if _, err := cb(fakeConnMetadata{user: "bob"}, other); err == nil {
			t.Error("expected unlisted key to be rejected")
		}
	})

	t.Run("permissions carry the authenticated key", func(t *testing.T) {
		policy := AuthPolicy{}
		cb := policy.publicKeyCallback()
		key := newTestKey(t)
		perm, err := cb(fakeConnMetadata{user: "carol"}, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		recovered := permissionsPublicKey(perm)
		if recovered == nil || !gossh.KeysEqual(recovered, key) {
			t.Error("expected permissionsPublicKey to recover the authenticated key")
		}
	})
}

func TestPermissionsPublicKeyNilPermissions(t *testing.T) {
	if permissionsPublicKey(nil) != nil {
		t.Error("expected nil for nil permissions")
	}
}

func TestLoadOrGenerateHostKey(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "host_key")

	signer1, err := LoadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("LoadOrGenerateHostKey failed: %v", err)
	}

	signer2, err := LoadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("second LoadOrGenerateHostKey failed: %v", err)
	}

	if string(signer1.PublicKey().Marshal()) != string(signer2.PublicKey().Marshal()) {
		t.Error("expected the same host key to be reloaded, not regenerated")
	}
}

// fakeConnMetadata is a minimal gossh.ConnMetadata for exercising
// AuthPolicy callbacks without a real SSH handshake.
type fakeConnMetadata struct {
	user string
}

func (f fakeConnMetadata) User() string          { return f.user }
func (f fakeConnMetadata) SessionID() []byte     { return nil }
func (f fakeConnMetadata) ClientVersion() []byte { return nil }
func (f fakeConnMetadata) ServerVersion() []byte { return nil }
func (f fakeConnMetadata) RemoteAddr() net.Addr  { return fakeAddr{} }
func (f fakeConnMetadata) LocalAddr() net.Addr   { return fakeAddr{} }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:22" }
