// Package encryption 提供消息落库前的认证加密（AES-256-GCM）。
//
// 密文格式为 hex(nonce):hex(tag):hex(ciphertext)，每条消息使用新的随机 nonce。
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32
	tagSize = 16
)

// ErrInvalidFormat 表示密文不是 nonce:tag:ciphertext 格式。
var ErrInvalidFormat = errors.New("invalid encrypted format")

// Cipher 对消息内容进行加解密，可并发使用。
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher 根据配置的密钥创建 Cipher。
// 恰好 32 字节的密钥直接使用，其他长度通过 HKDF-SHA256 派生。
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if len(secret) == keySize {
		return []byte(secret), nil
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("message-content"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Encrypt 加密明文。
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt 解密 Encrypt 的输出，认证失败时返回错误。
func (c *Cipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrInvalidFormat
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrInvalidFormat
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}
	plain, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt message: %w", err)
	}
	return string(plain), nil
}
