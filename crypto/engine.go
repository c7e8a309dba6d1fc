package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"

	"clipvault/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize         = 32 // 256 位盐值
	keySize          = 32 // AES-256
	pbkdf2Iterations = 100_000
	verifierMarker   = "clipvault-password-verifier"
)

// 预定义错误变量
var (
	ErrEmptyPassword = errors.New("密码不能为空")
	ErrLocked        = errors.New("加密已启用但尚未解锁")
	ErrDecrypt       = errors.New("解密失败：数据损坏或密钥不匹配")
)

// CredentialStore 凭据持久化接口
type CredentialStore interface {
	LoadCredentials() (*config.Credentials, error)
	SaveCredentials(creds *config.Credentials) error
	DeleteCredentials() error
}

// Engine 基于密码的加解密引擎
//
// 密钥只保存在内存中；锁定后所有加解密操作失败，直到重新解锁。
type Engine struct {
	mu      sync.RWMutex
	store   CredentialStore
	creds   *config.Credentials
	key     []byte
	enabled bool
}

// NewEngine 创建加密引擎，并读取已保存的凭据
func NewEngine(store CredentialStore) (*Engine, error) {
	creds, err := store.LoadCredentials()
	if err != nil {
		return nil, err
	}
	e := &Engine{store: store, creds: creds}
	e.enabled = creds != nil && creds.Enabled && len(creds.Salt) > 0
	return e, nil
}

// Enabled 是否启用了加密
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Unlocked 当前会话是否持有密钥
func (e *Engine) Unlocked() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key != nil
}

// Credentials 返回盐值和校验密文的副本；未启用加密时返回 nil
func (e *Engine) Credentials() (salt, verifier []byte) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.enabled || e.creds == nil {
		return nil, nil
	}
	return clone(e.creds.Salt), clone(e.creds.Verifier)
}

// SetPassword 设置新密码：生成盐值、派生密钥、保存校验密文
func (e *Engine) SetPassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("生成盐值失败: %w", err)
	}
	key := deriveKey(password, salt)

	verifier, err := seal(key, []byte(verifierMarker))
	if err != nil {
		return fmt.Errorf("生成校验密文失败: %w", err)
	}

	creds := &config.Credentials{Enabled: true, Salt: salt, Verifier: verifier}
	if err := e.store.SaveCredentials(creds); err != nil {
		return fmt.Errorf("保存凭据失败: %w", err)
	}

	e.mu.Lock()
	e.creds = creds
	e.key = key
	e.enabled = true
	e.mu.Unlock()

	logrus.Info("加密密码已更新")
	return nil
}

// Unlock 用密码解锁；密码错误时返回 false 且不改变当前状态
func (e *Engine) Unlock(password string) bool {
	creds, err := e.store.LoadCredentials()
	if err != nil {
		logrus.Warnf("读取凭据失败: %v", err)
		return false
	}
	if creds == nil || len(creds.Salt) == 0 || len(creds.Verifier) == 0 {
		return false
	}

	key := deriveKey(password, creds.Salt)
	if !verify(key, creds.Verifier) {
		return false
	}

	e.mu.Lock()
	e.creds = creds
	e.key = key
	e.enabled = creds.Enabled
	e.mu.Unlock()
	return true
}

// Lock 丢弃内存中的密钥
func (e *Engine) Lock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.key = nil
}

// RemovePassword 丢弃密钥并删除已保存的凭据，关闭加密
func (e *Engine) RemovePassword() error {
	if err := e.store.DeleteCredentials(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.key = nil
	e.creds = nil
	e.enabled = false
	return nil
}

// Encrypt 加密数据，返回 nonce+密文+认证标签；未启用加密时原样返回
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	e.mu.RLock()
	enabled, key := e.enabled, e.key
	e.mu.RUnlock()

	if !enabled {
		return plaintext, nil
	}
	if key == nil {
		return nil, ErrLocked
	}
	return seal(key, plaintext)
}

// Decrypt 解密 Encrypt 的输出；未启用加密时原样返回
func (e *Engine) Decrypt(data []byte) ([]byte, error) {
	e.mu.RLock()
	enabled, key := e.enabled, e.key
	e.mu.RUnlock()

	if !enabled {
		return data, nil
	}
	if key == nil {
		return nil, ErrLocked
	}
	return open(key, data)
}

// DecryptWithCredentials 用指定密码和盐值派生一次性密钥解密，不影响会话密钥
func (e *Engine) DecryptWithCredentials(password string, salt, data []byte) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	return open(deriveKey(password, salt), data)
}

// VerifyWithCredentials 检查密码能否打开给定的校验密文
func VerifyWithCredentials(password string, salt, verifier []byte) bool {
	return verify(deriveKey(password, salt), verifier)
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)
}

func verify(key, verifier []byte) bool {
	plain, err := open(key, verifier)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(plain, []byte(verifierMarker)) == 1
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("创建加密器失败: %w", err)
	}
	return cipher.NewGCM(block)
}

// seal 每次调用使用随机 nonce，输出 nonce 前置
func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("生成 nonce 失败: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, data []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Overhead 加密后相对明文增加的字节数
func Overhead() int {
	return 12 + 16
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
