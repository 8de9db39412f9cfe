package credstore

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned when a stored payload fails authentication.
var ErrDecrypt = errors.New("credential payload cannot be decrypted")

// Cipher seals and opens payloads. aad binds a ciphertext to its owner so a value copied
// to another user's key fails to open.
type Cipher interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(ciphertext, aad []byte) ([]byte, error)
}

// XChaChaCipher is XChaCha20-Poly1305 with a random 24-byte nonce prepended to each
// ciphertext (nonce|ciphertext|tag).
type XChaChaCipher struct {
	aead cipher.AEAD
}

var _ Cipher = (*XChaChaCipher)(nil)

// NewXChaChaCipher returns a cipher over a 32-byte key.
func NewXChaChaCipher(key []byte) (*XChaChaCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credstore: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &XChaChaCipher{aead: aead}, nil
}

func (c *XChaChaCipher) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (c *XChaChaCipher) Open(ciphertext, aad []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, ErrDecrypt
	}
	plain, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
