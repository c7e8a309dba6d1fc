package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// Credentials 加密凭据：是否启用加密、盐值和校验密文
type Credentials struct {
	Enabled  bool   `json:"enabled"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

// Keystore 以 0600 权限的 JSON 文件保存凭据
type Keystore struct {
	mu   sync.Mutex
	path string
}

// NewKeystore 创建凭据存储
func NewKeystore(path string) *Keystore {
	return &Keystore{path: path}
}

// LoadCredentials 读取凭据，不存在时返回 nil, nil
func (k *Keystore) LoadCredentials() (*Credentials, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取凭据失败: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("解析凭据失败: %w", err)
	}
	return &creds, nil
}

// SaveCredentials 原子写入凭据
func (k *Keystore) SaveCredentials(creds *Credentials) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("创建凭据目录失败: %w", err)
	}
	return renameio.WriteFile(k.path, data, 0o600)
}

// DeleteCredentials 删除凭据文件
func (k *Keystore) DeleteCredentials() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := os.Remove(k.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除凭据失败: %w", err)
	}
	return nil
}
