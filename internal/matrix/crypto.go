// ABOUTME: End-to-end encryption setup for the Matrix bridge
// ABOUTME: Initializes the mautrix crypto helper over a per-user SQLite store

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the crypto helper attached to the Matrix client.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto enables E2EE for client, storing keys under dataDir. A crypto
// store left behind by a different device is reset first. recoveryKey is
// optional; without it the device is not cross-signed.
func SetupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "crypto")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := cryptoDBPath(dataDir, userID)
	logger.Info("setting up encryption", "db", dbPath)

	if err := resetOnDeviceChange(dbPath, client.DeviceID.String(), logger); err != nil {
		return nil, err
	}

	helper, err := cryptohelper.NewCryptoHelper(client, deriveStoreKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption initialized without cross-signing")
		return cm, nil
	}
	if machine := helper.Machine(); machine != nil {
		if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
			// decryption still works for new sessions without verification
			logger.Warn("failed to verify with recovery key", "error", err)
			return cm, nil
		}
	}
	logger.Info("encryption initialized with cross-signing verification")
	return cm, nil
}

// Close releases the crypto store.
func (cm *CryptoManager) Close() error {
	if cm == nil || cm.helper == nil {
		return nil
	}
	return cm.helper.Close()
}

func cryptoDBPath(dataDir, userID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(userID)))
}

// slugify converts a Matrix user ID to a filesystem-safe string.
// Example: @convertbot:matrix.org -> convertbot_matrix.org
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// deriveStoreKey derives the crypto store pickle key from the user ID.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("convertbot-matrix-crypto:" + userID))
	return h[:]
}

// resetOnDeviceChange removes a crypto store that belongs to another device
// ID. A fresh login gets a new device, and the old keys would be rejected.
func resetOnDeviceChange(dbPath, deviceID string, logger *slog.Logger) error {
	mismatch, err := deviceIDMismatch(dbPath, deviceID)
	if err != nil {
		logger.Debug("could not check stored device ID", "error", err)
		return nil
	}
	if !mismatch {
		return nil
	}

	logger.Warn("device ID changed, resetting crypto database")
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing old crypto database: %w", err)
		}
	}
	return nil
}

// deviceIDMismatch reports whether dbPath holds an account for a device other
// than deviceID. A missing database or empty account table is not a mismatch.
func deviceIDMismatch(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}
