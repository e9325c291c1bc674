package encryption

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const keyInfoPrefix = "clinic-chat/appointment/"

// MessageEncryption 訊息內容的靜態加密，實作 chat.BodyCodec
// 每個預約的金鑰以 HKDF-SHA256 從主金鑰推導，不另外保存
type MessageEncryption struct {
	enabled   bool
	masterKey []byte

	mu      sync.RWMutex
	ciphers map[string]*AESCTREncryption
}

// NewMessageEncryption 創建訊息加密；停用時 Seal 原樣回傳
func NewMessageEncryption(enabled bool, masterKey []byte) (*MessageEncryption, error) {
	if enabled && len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &MessageEncryption{
		enabled:   enabled,
		masterKey: key,
		ciphers:   make(map[string]*AESCTREncryption),
	}, nil
}

// Enabled 是否啟用
func (m *MessageEncryption) Enabled() bool {
	return m.enabled
}

// DeriveKey 推導預約金鑰
func DeriveKey(masterKey []byte, appointmentID string) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey, nil, []byte(keyInfoPrefix+appointmentID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func (m *MessageEncryption) cipherFor(appointmentID string) (*AESCTREncryption, error) {
	m.mu.RLock()
	c, ok := m.ciphers[appointmentID]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	key, err := DeriveKey(m.masterKey, appointmentID)
	if err != nil {
		return nil, err
	}
	c, err = NewAESCTREncryption(key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.ciphers[appointmentID] = c
	m.mu.Unlock()
	return c, nil
}

// Seal 加密訊息內容；空內容原樣保存
func (m *MessageEncryption) Seal(appointmentID, body string) (string, error) {
	if !m.enabled || body == "" {
		return body, nil
	}
	c, err := m.cipherFor(appointmentID)
	if err != nil {
		return "", err
	}
	return c.Encrypt(body)
}

// Open 解密訊息內容；未加密的舊資料原樣回傳
func (m *MessageEncryption) Open(appointmentID, stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}
	if len(m.masterKey) != 32 {
		return "", fmt.Errorf("encrypted message but no master key configured")
	}
	c, err := m.cipherFor(appointmentID)
	if err != nil {
		return "", err
	}
	return c.Decrypt(stored)
}
