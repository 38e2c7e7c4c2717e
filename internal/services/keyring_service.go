package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const keyringServiceName = "narraweave"

// defaultKeyEnv is the environment variable checked before the keyring.
var defaultKeyEnv = map[string]string{
	"openai":            "OPENAI_API_KEY",
	"anthropic":         "ANTHROPIC_API_KEY",
	"gemini":            "GEMINI_API_KEY",
	"openrouter":        "OPENROUTER_API_KEY",
	"openai-compatible": "OPENAI_API_KEY",
}

// APIKeyInfo describes one stored key without revealing it.
type APIKeyInfo struct {
	Provider    string `json:"provider"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type KeyringService struct {
	mu     sync.Mutex
	ring   keyring.Keyring
	opener func() (keyring.Keyring, error)
}

// NewKeyringService opens the OS keyring lazily on first use. The encrypted
// file backend under the user config dir is the fallback on headless hosts.
func NewKeyringService() *KeyringService {
	return &KeyringService{opener: openSystemKeyring}
}

// NewKeyringServiceWith uses ring as the backing store.
func NewKeyringServiceWith(ring keyring.Keyring) *KeyringService {
	return &KeyringService{ring: ring}
}

func openSystemKeyring() (keyring.Keyring, error) {
	fileDir := "~/.narraweave/keys"
	if configDir, err := os.UserConfigDir(); err == nil {
		fileDir = filepath.Join(configDir, "narraweave", "keys")
	}
	return keyring.Open(keyring.Config{
		ServiceName:      keyringServiceName,
		KeychainName:     keyringServiceName,
		FileDir:          fileDir,
		FilePasswordFunc: keyring.TerminalPrompt,
	})
}

func (s *KeyringService) keyring() (keyring.Keyring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ring != nil {
		return s.ring, nil
	}
	if s.opener == nil {
		return nil, errors.New("keyring not configured")
	}
	ring, err := s.opener()
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	s.ring = ring
	return ring, nil
}

func (s *KeyringService) StoreApiKey(provider string, apiKey []byte) error {
	if len(apiKey) == 0 {
		return errors.New("API key is empty")
	}
	if provider == "" {
		return errors.New("provider is required")
	}
	ring, err := s.keyring()
	if err != nil {
		return err
	}
	return ring.Set(keyring.Item{
		Key:         provider,
		Data:        apiKey,
		Label:       provider + " API key",
		Description: "API key for " + provider + " used by narraweave",
	})
}

// GetApiKey returns "" without error when no key is stored.
func (s *KeyringService) GetApiKey(provider string) (string, error) {
	if provider == "" {
		return "", errors.New("provider is required")
	}
	ring, err := s.keyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(provider)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read API key for %s: %w", provider, err)
	}
	return string(item.Data), nil
}

func (s *KeyringService) DeleteApiKey(provider string) error {
	if provider == "" {
		return errors.New("provider is required")
	}
	ring, err := s.keyring()
	if err != nil {
		return err
	}
	if err := ring.Remove(provider); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete API key for %s: %w", provider, err)
	}
	return nil
}

func (s *KeyringService) ListApiKeys() ([]APIKeyInfo, error) {
	ring, err := s.keyring()
	if err != nil {
		return nil, err
	}
	keys, err := ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keyring entries: %w", err)
	}
	sort.Strings(keys)

	results := make([]APIKeyInfo, 0, len(keys))
	for _, provider := range keys {
		results = append(results, APIKeyInfo{
			Provider:    provider,
			Label:       provider + " API key",
			Description: "API key for " + provider + " used by narraweave",
		})
	}
	return results, nil
}

// ResolveAPIKey looks in envName (or the provider's conventional variable)
// first, then in the keyring.
func (s *KeyringService) ResolveAPIKey(provider, envName string) (string, error) {
	if envName == "" {
		envName = defaultKeyEnv[provider]
	}
	if envName != "" {
		if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
			return v, nil
		}
	}
	key, err := s.GetApiKey(provider)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("API key for %s is not configured (set %s or run `narraweave keys set %s`)", provider, envName, provider)
	}
	return key, nil
}
