package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"

	"github.com/Kweiss/Wardex/pkg/models"
)

// scrypt cost parameters, the "standard" interactive parameters from
// RFC 7914 §2.
const (
	scryptN       = 1 << 15
	scryptR       = 8
	scryptP       = 1
	scryptKeyLen  = 32
	scryptSaltLen = 16
)

// WriteKeyFile encrypts a raw private key with a passphrase and writes
// it to path in the on-disk format spec.md §6 requires, mode 0o600.
func WriteKeyFile(path string, rawKey []byte, passphrase string) error {
	salt := make([]byte, scryptSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}
	defer zero(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create gcm: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, rawKey, nil)
	ciphertext := sealed[:len(sealed)-gcm.Overhead()]
	authTag := sealed[len(sealed)-gcm.Overhead():]

	file := models.EncryptedKeyFile{
		Version:      1,
		Algorithm:    "aes-256-gcm",
		IV:           hex.EncodeToString(iv),
		AuthTag:      hex.EncodeToString(authTag),
		EncryptedKey: hex.EncodeToString(ciphertext),
		Salt:         hex.EncodeToString(salt),
	}

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}

	return os.WriteFile(path, raw, 0o600)
}

// LoadKeyFile reads and decrypts an encrypted key file, returning the
// raw private key bytes. Callers own the returned slice and must zero
// it when done.
func LoadKeyFile(path string, passphrase string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var file models.EncryptedKeyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if file.Algorithm != "aes-256-gcm" {
		return nil, fmt.Errorf("unsupported key file algorithm %q", file.Algorithm)
	}

	salt, err := hex.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	iv, err := hex.DecodeString(file.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(file.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encrypted key: %w", err)
	}
	authTag, err := hex.DecodeString(file.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("decode auth tag: %w", err)
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer zero(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	sealed := append(ciphertext, authTag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt key file: wrong passphrase or corrupt data")
	}

	return plaintext, nil
}

// zero overwrites a byte slice with zeros in place. Used for both the
// scrypt-derived AES key (ephemeral per call) and the long-lived
// in-memory private key on signer shutdown.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
