package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"user-management-api/backend/pkg/cache"
	"user-management-api/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig holds configuration for Vault client
type VaultConfig struct {
	Address    string
	Token      string
	Namespace  string
	Mount      string
	Path       string
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration
}

// VaultManager reads secrets from one KV v2 entry, falling back to another
// Manager (usually the environment) for keys the entry does not hold.
type VaultManager struct {
	client   *vault.Client
	config   VaultConfig
	fallback Manager
	log      *logger.Logger
	cache    *cache.Cache[string]
}

// NewVaultManager creates a new Vault manager instance
func NewVaultManager(config VaultConfig, fallback Manager, log *logger.Logger) (*VaultManager, error) {
	if config.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if config.Token == "" {
		return nil, ErrNoVaultToken
	}
	if config.Mount == "" {
		config.Mount = "secret"
	}
	if config.Path == "" {
		config.Path = "user-management-api"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address
	vaultConfig.Timeout = config.Timeout
	vaultConfig.MaxRetries = config.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}

	return &VaultManager{
		client:   client,
		config:   config,
		fallback: fallback,
		log:      log.WithComponent("secrets"),
		cache:    cache.New[string](cache.Options{TTL: config.CacheTTL}),
	}, nil
}

// GetSecret retrieves a secret from Vault, with fallback for missing keys
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if cached, found := m.cache.Get(key); found {
		return cached, nil
	}

	value, err := m.getFromVault(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) && m.fallback != nil {
			m.log.Warn("Secret not found in Vault, falling back", "key", key)
			return m.fallback.GetSecret(ctx, key)
		}
		return "", err
	}

	m.cache.Set(key, value)
	return value, nil
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.client.KVv2(m.config.Mount).Get(ctx, m.config.Path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", ErrSecretNotFound
		}
		m.log.Error("Failed to read secret from Vault",
			"mount", m.config.Mount,
			"path", m.config.Path,
			"error", err.Error(),
		)
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}
