package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmcleod/ironsession/internal/util"
)

const saltSize = 16

// DeriveRecordKey binds a master key to one bucket/key pair so a sealed record
// cannot be moved to another address and still open.
func DeriveRecordKey(master []byte, bucket, key string) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("master key must not be empty")
	}
	return util.SubKey(master, nil, []byte("ironsession:record:"+bucket+"/"+key))
}

// RecordAAD is the additional data sealed records are bound to.
func RecordAAD(bucket, key string) []byte {
	return []byte(bucket + ":" + key)
}

// LoadOrCreateKeyFile reads a hex-encoded master key from path, generating and
// writing a new one with 0600 permissions when the file does not exist.
func LoadOrCreateKeyFile(path string) ([]byte, error) {
	key, err := readHexFile(path, util.KeySize)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key, err = util.NewKey()
	if err != nil {
		return nil, err
	}
	if err := writeHexFile(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadOrCreateSalt reads or creates the salt used for passphrase-derived master keys.
func LoadOrCreateSalt(path string) ([]byte, error) {
	salt, err := readHexFile(path, saltSize)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	salt, err = util.RandomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	if err := writeHexFile(path, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// KeyFromPassphrase derives a master key from a passphrase and salt.
func KeyFromPassphrase(passphrase string, salt []byte) ([]byte, error) {
	return util.PassphraseKey(passphrase, salt, util.DefaultArgon2idParams())
}

func readHexFile(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s: got %d bytes, want %d", path, len(b), size)
	}
	return b, nil
}

func writeHexFile(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(b)+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
