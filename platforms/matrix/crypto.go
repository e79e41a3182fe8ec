package matrix

import (
	"context"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

const defaultPickleKey = "default-pickle-key"

// InitCrypto enables E2EE backed by a sqlite store at dbPath. An empty path leaves it off.
func InitCrypto(ctx context.Context, client *mautrix.Client, dbPath, pickleKey string, logger zerolog.Logger) error {
	if dbPath == "" {
		logger.Warn().Msg("crypto_db_path not set, end-to-end encryption disabled")
		return nil
	}

	pKey := []byte(pickleKey)
	if len(pKey) == 0 {
		logger.Warn().Msg("pickle_key not set, using the built-in default")
		pKey = []byte(defaultPickleKey)
	}

	helper, err := cryptohelper.NewCryptoHelper(client, pKey, dbPath)
	if err != nil {
		return fmt.Errorf("failed to create crypto helper: %w", err)
	}

	if err := helper.Init(ctx); err != nil {
		return fmt.Errorf("failed to init crypto: %w", err)
	}

	client.Crypto = helper
	logger.Info().Str("db", dbPath).Msg("end-to-end encryption initialized")
	return nil
}
