package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prefix 密文格式前綴
const Prefix = "aes256ctr:"

// ErrMalformedCiphertext 密文格式錯誤
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// AESCTREncryption AES-256-CTR 加密
// 格式: "aes256ctr:" + base64(IV + ciphertext)，每次加密使用新的隨機 IV
type AESCTREncryption struct {
	block cipher.Block
}

// NewAESCTREncryption 創建 AES-256-CTR 加密實例
func NewAESCTREncryption(key []byte) (*AESCTREncryption, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &AESCTREncryption{block: block}, nil
}

// Encrypt 加密文字
func (e *AESCTREncryption) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	out := make([]byte, aes.BlockSize+len(plaintext))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}
	cipher.NewCTR(e.block, iv).XORKeyStream(out[aes.BlockSize:], []byte(plaintext))

	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt 解密文字
func (e *AESCTREncryption) Decrypt(encryptedText string) (string, error) {
	if !IsEncrypted(encryptedText) {
		return "", fmt.Errorf("%w: missing %q prefix", ErrMalformedCiphertext, Prefix)
	}

	data, err := base64.StdEncoding.DecodeString(encryptedText[len(Prefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(data) < aes.BlockSize {
		return "", fmt.Errorf("%w: must be at least %d bytes", ErrMalformedCiphertext, aes.BlockSize)
	}

	plaintext := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCTR(e.block, data[:aes.BlockSize]).XORKeyStream(plaintext, data[aes.BlockSize:])
	return string(plaintext), nil
}

// IsEncrypted 檢查文本是否為密文格式
func IsEncrypted(text string) bool {
	return strings.HasPrefix(text, Prefix)
}
