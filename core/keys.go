package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prokashpul/prompts/core/llm"
)

const (
	MinCount = 1
	MaxCount = 5
)

var (
	ErrNoMasterKey = errors.New("keys: master_key is required")
	ErrNativeKey   = errors.New("the native provider key is configured by the operator")
	ErrNoKey       = errors.New("no API key stored")
)

// ClampCount bounds a requested variation count to [MinCount, MaxCount].
func ClampCount(n int) int {
	switch {
	case n < MinCount:
		return MinCount
	case n > MaxCount:
		return MaxCount
	}
	return n
}

type KeysConfig struct {
	FilePath            string `toml:"file_path"`
	MasterKey           string `toml:"master_key"`
	SaveIntervalSeconds int    `toml:"save_interval_seconds"`
}

type Settings struct {
	Provider llm.ProviderID
	Count    int
}

type sealedKey struct {
	Data  []byte   `json:"data"`
	Nonce [24]byte `json:"nonce"`
}

type userRecord struct {
	UserID   string                       `json:"user_id"`
	Provider llm.ProviderID               `json:"provider,omitempty"`
	Count    int                          `json:"count,omitempty"`
	Keys     map[llm.ProviderID]sealedKey `json:"keys,omitempty"`
}

type storeFile struct {
	Salt  []byte                 `json:"salt"`
	Users map[string]*userRecord `json:"users"`
}

// KeyStore holds per-user settings and sealed provider keys, persisted as JSON.
type KeyStore struct {
	mu        sync.RWMutex
	users     map[string]*userRecord
	salt      []byte
	masterKey [32]byte
	filePath  string
	defaults  Settings
	dirty     bool
	logger    zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewKeyStore loads cfg.FilePath if it exists. An empty FilePath keeps everything in memory.
func NewKeyStore(cfg KeysConfig, defaults Settings, logger zerolog.Logger) (*KeyStore, error) {
	if cfg.MasterKey == "" {
		return nil, ErrNoMasterKey
	}
	defaults.Count = ClampCount(defaults.Count)

	ks := &KeyStore{
		users:    make(map[string]*userRecord),
		filePath: cfg.FilePath,
		defaults: defaults,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := ks.loadFromFile(); err != nil {
		return nil, err
	}
	if len(ks.salt) == 0 {
		salt, err := NewSalt()
		if err != nil {
			return nil, fmt.Errorf("keys: generating salt: %w", err)
		}
		ks.salt = salt
		ks.dirty = true
	}
	ks.masterKey = DeriveKey(cfg.MasterKey, ks.salt)

	interval := time.Duration(cfg.SaveIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	go ks.autoSaveLoop(interval)
	return ks, nil
}

func (ks *KeyStore) autoSaveLoop(interval time.Duration) {
	defer close(ks.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ks.stop:
			return
		case <-ticker.C:
			ks.mu.Lock()
			if ks.dirty {
				if err := ks.saveToFileLocked(); err != nil {
					ks.logger.Error().Err(err).Str("path", ks.filePath).Msg("failed to save key store")
				} else {
					ks.dirty = false
				}
			}
			ks.mu.Unlock()
		}
	}
}

// Close stops the autosave loop and writes pending changes.
func (ks *KeyStore) Close() error {
	close(ks.stop)
	<-ks.done

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if !ks.dirty {
		return nil
	}
	if err := ks.saveToFileLocked(); err != nil {
		return err
	}
	ks.dirty = false
	return nil
}

func (ks *KeyStore) loadFromFile() error {
	if ks.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(ks.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keys: reading %s: %w", ks.filePath, err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("keys: parsing %s: %w", ks.filePath, err)
	}
	ks.salt = f.Salt
	if f.Users != nil {
		ks.users = f.Users
	}
	return nil
}

func (ks *KeyStore) saveToFileLocked() error {
	if ks.filePath == "" {
		return nil
	}
	data, err := json.Marshal(storeFile{Salt: ks.salt, Users: ks.users})
	if err != nil {
		return fmt.Errorf("keys: encoding: %w", err)
	}

	tmp := ks.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("keys: writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, ks.filePath)
}

func (ks *KeyStore) userLocked(userID string) *userRecord {
	u := ks.users[userID]
	if u == nil {
		u = &userRecord{UserID: userID}
		ks.users[userID] = u
	}
	return u
}

func (ks *KeyStore) SetKey(userID string, provider llm.ProviderID, apiKey string) error {
	if provider.Native() {
		return ErrNativeKey
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key is empty")
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	data, nonce, err := Seal([]byte(apiKey), &ks.masterKey)
	if err != nil {
		return err
	}
	u := ks.userLocked(userID)
	if u.Keys == nil {
		u.Keys = make(map[llm.ProviderID]sealedKey)
	}
	u.Keys[provider] = sealedKey{Data: data, Nonce: nonce}
	ks.dirty = true
	return nil
}

// DeleteKey reports whether a key was stored.
func (ks *KeyStore) DeleteKey(userID string, provider llm.ProviderID) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	u := ks.users[userID]
	if u == nil {
		return false
	}
	if _, ok := u.Keys[provider]; !ok {
		return false
	}
	delete(u.Keys, provider)
	ks.dirty = true
	return true
}

func (ks *KeyStore) Key(userID string, provider llm.ProviderID) (string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.keyLocked(userID, provider)
}

func (ks *KeyStore) keyLocked(userID string, provider llm.ProviderID) (string, error) {
	u := ks.users[userID]
	if u == nil {
		return "", ErrNoKey
	}
	sealed, ok := u.Keys[provider]
	if !ok {
		return "", ErrNoKey
	}
	plain, err := Open(sealed.Data, sealed.Nonce, &ks.masterKey)
	if err != nil {
		return "", fmt.Errorf("%s API key: %w", provider, err)
	}
	return string(plain), nil
}

// Credentials returns every key the user has stored that can still be opened.
func (ks *KeyStore) Credentials(userID string) llm.Credentials {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	creds := llm.Credentials{}
	u := ks.users[userID]
	if u == nil {
		return creds
	}
	for provider := range u.Keys {
		key, err := ks.keyLocked(userID, provider)
		if err != nil {
			ks.logger.Warn().Err(err).Str("user", userID).Msg("stored key unusable")
			continue
		}
		creds[provider] = key
	}
	return creds
}

// StoredProviders lists providers the user has a key for, in display order.
func (ks *KeyStore) StoredProviders(userID string) []llm.ProviderID {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var out []llm.ProviderID
	u := ks.users[userID]
	if u == nil {
		return out
	}
	for _, p := range llm.Providers {
		if _, ok := u.Keys[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (ks *KeyStore) Settings(userID string) Settings {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	s := ks.defaults
	if u := ks.users[userID]; u != nil {
		if u.Provider != "" {
			s.Provider = u.Provider
		}
		if u.Count != 0 {
			s.Count = ClampCount(u.Count)
		}
	}
	return s
}

func (ks *KeyStore) SetProvider(userID string, provider llm.ProviderID) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.userLocked(userID).Provider = provider
	ks.dirty = true
}

// SetCount stores the clamped count and returns it.
func (ks *KeyStore) SetCount(userID string, count int) int {
	count = ClampCount(count)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.userLocked(userID).Count = count
	ks.dirty = true
	return count
}
