package secret

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"fleetward/transport"
)

// Store hands out opaque credentials by name. Encryption and rotation
// live behind whatever implements this; the engine never sees them.
type Store interface {
	Get(name string) (transport.Credential, bool)
}

// FileStore reads a 0600 JSON file mapping names to credentials once and
// serves lookups from memory.
type FileStore struct {
	mu    sync.RWMutex
	creds map[string]transport.Credential
}

func NewFileStore(path string) (*FileStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	creds := make(map[string]transport.Credential)
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, err
	}
	return &FileStore{creds: creds}, nil
}

func (s *FileStore) Get(name string) (transport.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[name]
	return c, ok
}

// EnvStore resolves FLEETWARD_CRED_<NAME>_USER / _PASS pairs; useful for
// containerized deployments.
type EnvStore struct{}

func (EnvStore) Get(name string) (transport.Credential, bool) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	user := os.Getenv("FLEETWARD_CRED_" + key + "_USER")
	if user == "" {
		return transport.Credential{}, false
	}
	return transport.Credential{
		Username: user,
		Password: os.Getenv("FLEETWARD_CRED_" + key + "_PASS"),
	}, true
}

// StaticStore serves a fixed map; used in tests.
type StaticStore map[string]transport.Credential

func (s StaticStore) Get(name string) (transport.Credential, bool) {
	c, ok := s[name]
	return c, ok
}
