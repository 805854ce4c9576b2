package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealMagic      = "VLX1"
	sealSaltSize   = 16
	sealIterations = 100_000
	sealKeySize    = 32
)

var ErrNotSealed = errors.New("data is not sealed with a passphrase")

func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

func SHA256HashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func EncryptAES(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func DecryptAES(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return pt, nil
}

func DeriveKey(password string, salt []byte, iterations, keyLength int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
}

// SealWithPassphrase encrypts data with a key derived from passphrase. The
// output is magic, salt, then the AES-GCM nonce and ciphertext.
func SealWithPassphrase(passphrase string, data []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase")
	}
	salt, err := GenerateRandomBytes(sealSaltSize)
	if err != nil {
		return nil, err
	}
	ct, err := EncryptAES(DeriveKey(passphrase, salt, sealIterations, sealKeySize), data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealMagic)+len(salt)+len(ct))
	out = append(out, sealMagic...)
	out = append(out, salt...)
	return append(out, ct...), nil
}

func OpenWithPassphrase(passphrase string, sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}
	rest := sealed[len(sealMagic):]
	if len(rest) < sealSaltSize {
		return nil, fmt.Errorf("sealed data too short")
	}
	salt, ct := rest[:sealSaltSize], rest[sealSaltSize:]
	return DecryptAES(DeriveKey(passphrase, salt, sealIterations, sealKeySize), ct)
}

func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sealMagic))
}

// MaskSensitiveData keeps the first and last two characters of s.
func MaskSensitiveData(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
