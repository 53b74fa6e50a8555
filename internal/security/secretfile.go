package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	secretFileSaltLen   = 16
	secretFilePBKDF2Iter = 100000
)

// EncryptSecretFile wraps plaintext (the cluster secret normally carried
// in cluster.conf's [cluster] secret keyword) for at-rest storage in
// auth.conf, protected by passphrase via PBKDF2-SHA256 key derivation and
// AES-256-GCM — a second layer beyond the envelope's own SHA-256 key
// derivation (spec.md §6), for operators who don't want the shared
// cluster secret sitting in cleartext on disk.
func EncryptSecretFile(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, secretFileSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("security: generate salt: %w", err)
	}
	gcm, err := secretFileCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptSecretFile reverses EncryptSecretFile.
func DecryptSecretFile(passphrase string, data []byte) ([]byte, error) {
	if len(data) < secretFileSaltLen {
		return nil, fmt.Errorf("security: secret file too short to contain a salt")
	}
	salt, rest := data[:secretFileSaltLen], data[secretFileSaltLen:]
	gcm, err := secretFileCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("security: secret file too short to contain a nonce")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt secret file: wrong passphrase or corrupt file")
	}
	return plain, nil
}

func secretFileCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, secretFilePBKDF2Iter, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: build cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
