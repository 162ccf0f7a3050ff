// Package crypto seals credential documents with a passphrase.
//
// Sealed format: magic(4) | version(4, little endian) | salt(32) | nonce(12) | AES-256-GCM ciphertext.
// The key is derived from the passphrase with Argon2id.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	// MagicBytes marks a sealed document.
	MagicBytes = "DYTK"

	// FormatVersion of the sealed format.
	FormatVersion = 1

	// Argon2id parameters (OWASP recommended)
	Argon2Time    = 3
	Argon2Memory  = 64 * 1024 // 64 MB
	Argon2Threads = 4
	Argon2KeyLen  = 32 // AES-256

	SaltSize  = 32
	NonceSize = 12 // GCM standard nonce size

	HeaderSize = 4 + 4 + SaltSize + NonceSize
)

var (
	ErrInvalidMagic   = errors.New("invalid format: not a sealed credential document")
	ErrInvalidVersion = errors.New("unsupported sealed format version")
	ErrDecryptFailed  = errors.New("decryption failed: wrong passphrase or corrupted data")
	ErrEmptyPassword  = errors.New("passphrase is empty")
)

// DeriveKey derives an AES-256 key from a passphrase using Argon2id.
func DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with the passphrase.
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}

	out := make([]byte, HeaderSize, HeaderSize+len(plaintext)+16)
	copy(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	salt := out[8 : 8+SaltSize]
	nonce := out[8+SaltSize : HeaderSize]
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	gcm, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	// The header is bound as additional data so it cannot be swapped.
	return gcm.Seal(out, nonce, plaintext, out[:8]), nil
}

// Decrypt opens data produced by Encrypt.
func Decrypt(data []byte, password string) ([]byte, error) {
	if !IsEncrypted(data) || len(data) < HeaderSize {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != FormatVersion {
		return nil, ErrInvalidVersion
	}

	salt := data[8 : 8+SaltSize]
	nonce := data[8+SaltSize : HeaderSize]

	gcm, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[HeaderSize:], data[:8])
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// IsEncrypted reports whether data starts with the sealed format magic.
func IsEncrypted(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == MagicBytes
}

// SealFile encrypts the file at path in place. Already sealed files are left alone.
func SealFile(path, password string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if IsEncrypted(data) {
		return nil
	}
	sealed, err := Encrypt(data, password)
	if err != nil {
		return err
	}
	return replaceFile(path, sealed)
}

// OpenFile decrypts the file at path in place. Plain files are left alone.
func OpenFile(path, password string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if !IsEncrypted(data) {
		return nil
	}
	plain, err := Decrypt(data, password)
	if err != nil {
		return err
	}
	return replaceFile(path, plain)
}

func replaceFile(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
