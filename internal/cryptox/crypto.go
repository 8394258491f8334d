// Package cryptox wraps the platform crypto primitives consumed by the
// protocol operators: random bytes, UUIDs, hashing, key derivation and
// authenticated encryption. Operators depend on the Provider interface so
// tests can substitute deterministic implementations.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/mkosyakov/notesync/internal/common"
)

// Provider is the crypto capability consumed by protocol operators.
type Provider interface {
	// RandomBytes returns n cryptographically random bytes.
	RandomBytes(n int) []byte

	// UUID returns a new random UUID string.
	UUID() string

	// SHA256Hex returns the hex-encoded SHA-256 digest of data.
	SHA256Hex(data []byte) string

	// HKDF expands secret into n bytes using HKDF-SHA256.
	HKDF(secret, salt, info []byte, n int) ([]byte, error)

	// Argon2id derives n bytes from password and salt with the given
	// iteration count (64 MiB memory, single lane).
	Argon2id(password, salt []byte, iterations uint32, n uint32) []byte

	// PBKDF2SHA512 derives n bytes from password and salt.
	PBKDF2SHA512(password, salt []byte, iterations, n int) []byte

	// AESGCMEncrypt seals plaintext under key with the given nonce and
	// additional authenticated data. The tag is appended to the ciphertext.
	AESGCMEncrypt(plaintext, key, nonce, aad []byte) ([]byte, error)

	// AESGCMDecrypt opens ciphertext produced by AESGCMEncrypt. Any
	// authentication failure yields common.ErrDecryptFailed.
	AESGCMDecrypt(ciphertext, key, nonce, aad []byte) ([]byte, error)

	// AESCBCEncrypt encrypts plaintext with AES-CBC and PKCS#7 padding.
	AESCBCEncrypt(plaintext, key, iv []byte) ([]byte, error)

	// AESCBCDecrypt reverses AESCBCEncrypt.
	AESCBCDecrypt(ciphertext, key, iv []byte) ([]byte, error)

	// HMACSHA256 authenticates message under key.
	HMACSHA256(message, key []byte) []byte
}

// DefaultProvider implements Provider with x/crypto and the stdlib.
type DefaultProvider struct{}

var _ Provider = DefaultProvider{}

func (DefaultProvider) RandomBytes(n int) []byte {
	return common.GenerateRandByteArray(n)
}

func (DefaultProvider) UUID() string {
	return uuid.NewString()
}

func (DefaultProvider) SHA256Hex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func (DefaultProvider) HKDF(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

func (DefaultProvider) Argon2id(password, salt []byte, iterations uint32, n uint32) []byte {
	return argon2.IDKey(password, salt, iterations, 64*1024, 1, n)
}

func (DefaultProvider) PBKDF2SHA512(password, salt []byte, iterations, n int) []byte {
	return pbkdf2.Key(password, salt, iterations, n, sha512.New)
}

func (DefaultProvider) AESGCMEncrypt(plaintext, key, nonce, aad []byte) ([]byte, error) {
	aead, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (DefaultProvider) AESGCMDecrypt(ciphertext, key, nonce, aad []byte) ([]byte, error) {
	aead, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, common.ErrDecryptFailed
	}
	return plaintext, nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if nonceSize == 0 {
		nonceSize = 12
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

func (DefaultProvider) AESCBCEncrypt(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func (DefaultProvider) AESCBCDecrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, common.ErrDecryptFailed
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, block.BlockSize())
}

func (DefaultProvider) HMACSHA256(message, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, common.ErrDecryptFailed
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, common.ErrDecryptFailed
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, common.ErrDecryptFailed
		}
	}
	return data[:len(data)-pad], nil
}
