package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/prokashpul/prompts/core"
)

type Config struct {
	Enabled           bool   `toml:"enabled"`
	Homeserver        string `toml:"homeserver"`
	UserID            string `toml:"user_id"`
	CredentialsDBPath string `toml:"credentials_db_path"`
	CryptoDBPath      string `toml:"crypto_db_path"`
	PickleKey         string `toml:"pickle_key"`
	AutoJoinInvites   bool   `toml:"auto_join_invites"`
	DisplayName       string `toml:"display_name"`
}

// CredentialStore is the on-disk session. The access token is sealed with a key derived
// from the account password.
type CredentialStore struct {
	Homeserver    string   `json:"homeserver"`
	UserID        string   `json:"user_id"`
	DeviceID      string   `json:"device_id"`
	EncryptedData []byte   `json:"encrypted_data"`
	Nonce         [24]byte `json:"nonce"`
	Salt          []byte   `json:"salt"`
}

var ErrWrongPassword = errors.New("failed to decrypt credentials - wrong password?")

func getPassword() (string, error) {
	if password := os.Getenv("MATRIX_PASSWORD"); password != "" {
		return password, nil
	}

	fmt.Print("🔑 Enter Matrix password (or set MATRIX_PASSWORD env var): ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readCredentials(path string) (*CredentialStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var store CredentialStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if len(store.Salt) == 0 {
		return nil, errors.New("credentials file has no salt; delete it and log in again")
	}
	return &store, nil
}

// openToken returns the access token sealed in store.
func openToken(store *CredentialStore, password string) (string, error) {
	key := core.DeriveKey(password, store.Salt)
	token, err := core.Open(store.EncryptedData, store.Nonce, &key)
	if err != nil {
		return "", ErrWrongPassword
	}
	return string(token), nil
}

func sealToken(homeserver, userID, deviceID, token, password string) (*CredentialStore, error) {
	salt, err := core.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := core.DeriveKey(password, salt)
	encrypted, nonce, err := core.Seal([]byte(token), &key)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}
	return &CredentialStore{
		Homeserver:    homeserver,
		UserID:        userID,
		DeviceID:      deviceID,
		EncryptedData: encrypted,
		Nonce:         nonce,
		Salt:          salt,
	}, nil
}

func loadCredentials(path, password string) (*mautrix.Client, error) {
	store, err := readCredentials(path)
	if err != nil {
		return nil, err
	}
	token, err := openToken(store, password)
	if err != nil {
		return nil, err
	}

	client, err := mautrix.NewClient(store.Homeserver, id.UserID(store.UserID), token)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	client.DeviceID = id.DeviceID(store.DeviceID)
	return client, nil
}

func loginAndSaveCredentials(ctx context.Context, cfg *Config, password string, logger zerolog.Logger) (*mautrix.Client, error) {
	logger.Info().Str("homeserver", cfg.Homeserver).Str("user", cfg.UserID).Msg("logging in")

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type: "m.login.password",
		Identifier: mautrix.UserIdentifier{
			Type: "m.id.user",
			User: cfg.UserID,
		},
		Password:                 password,
		InitialDeviceDisplayName: cfg.DisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	client.AccessToken = resp.AccessToken
	client.DeviceID = resp.DeviceID

	store, err := sealToken(cfg.Homeserver, cfg.UserID, string(resp.DeviceID), resp.AccessToken, password)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(store)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(cfg.CredentialsDBPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write credentials file: %w", err)
	}

	logger.Info().Str("path", cfg.CredentialsDBPath).Msg("credentials saved")
	return client, nil
}

// GetMatrixClient logs in on first run and reuses the sealed session afterwards.
func GetMatrixClient(ctx context.Context, cfg *Config, logger zerolog.Logger) (*mautrix.Client, error) {
	password, err := getPassword()
	if err != nil {
		return nil, fmt.Errorf("failed to get password: %w", err)
	}

	if _, err := os.Stat(cfg.CredentialsDBPath); os.IsNotExist(err) {
		logger.Info().Msg("first-time login detected")
		return loginAndSaveCredentials(ctx, cfg, password, logger)
	}

	logger.Info().Str("path", cfg.CredentialsDBPath).Msg("loading existing session")
	return loadCredentials(cfg.CredentialsDBPath, password)
}
