// Package identity manages the per-state-directory runner id and bearer
// token: created lazily on first serve, persisted atomically
// (write-tmp-then-rename), never embedded in the daemon runtime descriptor.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Identity is the persisted record of one state directory's runner id and
// bearer token.
type Identity struct {
	RunnerID string `json:"runnerId"`
	Token    string `json:"token"`
}

// Load reads the identity file at path without creating one. Callers that
// only ever read a server's identity (the CLI resolving a bearer token, in
// particular) must use this instead of LoadOrCreate, which is reserved for
// the server process that owns the file.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return &id, nil
}

// LoadOrCreate reads the identity file at path, creating and persisting a
// fresh identity if one does not exist yet.
func LoadOrCreate(path string) (*Identity, error) {
	if data, err := os.ReadFile(path); err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("parse identity file %s: %w", path, err)
		}
		if id.RunnerID != "" && id.Token != "" {
			return &id, nil
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity file %s: %w", path, err)
	}

	id := &Identity{
		RunnerID: uuid.NewString(),
		Token:    generateToken(),
	}
	if err := Save(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

// SetToken overrides the token and persists the identity.
func (id *Identity) SetToken(path, token string) error {
	id.Token = token
	return Save(path, id)
}

// Save atomically writes the identity (write-tmp-then-rename).
func Save(path string, id *Identity) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

// generateToken produces an opaque, URL-safe, >=32-byte-entropy bearer
// token.
func generateToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a uuid-derived token rather than panic.
		return base64.RawURLEncoding.EncodeToString([]byte(uuid.NewString() + uuid.NewString()))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-identity-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
