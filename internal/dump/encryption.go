package dump

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
)

const (
	saltSize         = 32
	keySize          = 32 // AES-256
	pbkdf2Iterations = 100000
)

// deriveKey derives an AES-256 key from the passphrase using PBKDF2-SHA256
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// EncryptFile encrypts src into dst with AES-256-GCM. The output layout is
// salt || nonce || ciphertext; the salt is random per file so equal dumps
// never produce equal ciphertexts. src is removed on success.
func EncryptFile(src, dst, passphrase string) error {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return apperrors.NewIOError("failed to read dump for encryption", err).
			WithContext("path", src)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return apperrors.NewIOError("failed to generate salt", err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return apperrors.NewIOError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return apperrors.NewIOError("failed to create GCM mode", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return apperrors.NewIOError("failed to generate nonce", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)

	if err := os.WriteFile(dst, out, 0600); err != nil {
		return apperrors.NewIOError("failed to write encrypted dump", err).
			WithContext("path", dst)
	}
	return os.Remove(src)
}

// DecryptFile reverses EncryptFile, writing the plaintext to dst
func DecryptFile(src, dst, passphrase string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return apperrors.NewIOError("failed to read encrypted dump", err).
			WithContext("path", src)
	}
	if len(data) < saltSize {
		return apperrors.NewIOError("encrypted dump is truncated", nil).
			WithContext("path", src)
	}

	salt, rest := data[:saltSize], data[saltSize:]
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return apperrors.NewIOError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return apperrors.NewIOError("failed to create GCM mode", err)
	}
	if len(rest) < gcm.NonceSize() {
		return apperrors.NewIOError("encrypted dump is truncated", nil).
			WithContext("path", src)
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return apperrors.NewVerificationError("decryption failed, wrong passphrase or corrupt file", err).
			WithContext("path", src)
	}

	if err := os.WriteFile(dst, plaintext, 0600); err != nil {
		return apperrors.NewIOError("failed to write decrypted dump", err).
			WithContext("path", dst)
	}
	return nil
}
