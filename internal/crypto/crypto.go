// Package crypto encrypts message bodies at rest.
//
// The wire format is "hex(iv):hex(ciphertext)" with AES-256-CBC and a random
// 16-byte IV per message. The key is derived once from the configured secret.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const ivHexLen = 2 * aes.BlockSize

// Cipher encrypts and decrypts message text with a key derived from a secret.
type Cipher struct {
	block cipher.Block
}

// New derives a 32-byte key from the secret and returns a ready Cipher.
func New(secret string) (*Cipher, error) {
	key, err := scrypt.Key([]byte(secret), []byte("salt"), 16384, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Encrypt returns "hex(iv):hex(ciphertext)" for the given text.
// Empty input encrypts to empty.
func (c *Cipher) Encrypt(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	padded := pad([]byte(text))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ct, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. Anything that does not look like a well-formed
// envelope (missing separator, wrong-length IV, non-hex, bad padding) is
// returned unchanged: legacy and corrupt rows must still be displayable.
func (c *Cipher) Decrypt(stored string) string {
	if stored == "" {
		return ""
	}
	ivHex, ctHex, ok := strings.Cut(stored, ":")
	if !ok {
		return stored
	}
	if len(ivHex) != ivHexLen {
		return stored
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return stored
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return stored
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return stored
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ct)
	plain, ok = unpad(plain)
	if !ok {
		return stored
	}
	return string(plain)
}

// pad applies PKCS#7 padding to a full block multiple.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
