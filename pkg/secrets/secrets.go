package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)
}

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// EnvManager reads secrets from environment variables. The key "auth_token"
// is looked up as AUTH_TOKEN.
type EnvManager struct {
	lookup func(string) (string, bool)
}

// NewEnvManager creates a manager over the process environment
func NewEnvManager() *EnvManager {
	return &EnvManager{lookup: os.LookupEnv}
}

// GetSecret implements Manager
func (m *EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	value, ok := m.lookup(EnvKey(key))
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// EnvKey converts a secret key to its environment variable name
func EnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func GetSecretWithDefault(ctx context.Context, m Manager, key, defaultValue string) string {
	if m == nil {
		return defaultValue
	}
	value, err := m.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}
