// Package backup 导出和导入加密备份。
//
// 备份格式：[4字节盐值长度][盐值][4字节校验密文长度][校验密文][负载]，长度为大端序。
// 未启用加密时两个长度都为 0，负载为未加密的备份包。
package backup

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"clipvault/codec"
	"clipvault/crypto"
	"clipvault/history"
	"clipvault/model"

	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"
)

// 预定义错误变量
var (
	ErrTruncated = errors.New("备份数据不完整")
	ErrDecrypt   = errors.New("无法解密备份数据")
	ErrLocked    = errors.New("加密已启用但尚未解锁，无法导出")
)

// 盐值和校验密文都很短，长度字段超过该值说明不是备份文件
const maxHeaderField = 4096

// Engine 备份需要的加密能力
type Engine interface {
	Enabled() bool
	Unlocked() bool
	Credentials() (salt, verifier []byte)
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
	DecryptWithCredentials(password string, salt, data []byte) ([]byte, error)
}

// Service 备份服务
type Service struct {
	store  *history.Store
	engine Engine
}

// NewService 创建备份服务
func NewService(store *history.Store, engine Engine) *Service {
	return &Service{store: store, engine: engine}
}

// Export 导出全部记录和图片
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	if s.engine.Enabled() && !s.engine.Unlocked() {
		return nil, ErrLocked
	}

	pkg := &codec.Package{Images: make(map[string][]byte)}
	for _, e := range s.store.Items() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.Kind == model.KindImage {
			data, err := s.store.ImageData(e.ImageRef)
			if errors.Is(err, history.ErrNotFound) {
				logrus.WithField("id", e.ID).Warn("图片数据丢失，备份中跳过该记录")
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("读取图片失败: %w", err)
			}
			pkg.Images[e.ImageRef] = data
		}
		pkg.Entries = append(pkg.Entries, e)
	}

	payload, err := codec.EncodePackage(pkg, s.store.Config().Compression)
	if err != nil {
		return nil, err
	}
	sealed, err := s.engine.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("加密备份失败: %w", err)
	}

	var salt, verifier []byte
	if s.engine.Enabled() {
		salt, verifier = s.engine.Credentials()
	}
	logrus.WithFields(logrus.Fields{
		"entries":   len(pkg.Entries),
		"images":    len(pkg.Images),
		"encrypted": len(salt) > 0,
	}).Info("备份已生成")
	return writeHeader(salt, verifier, sealed), nil
}

// ExportFile 导出到文件
func (s *Service) ExportFile(ctx context.Context, path string) error {
	data, err := s.Export(ctx)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("写入备份文件失败: %w", err)
	}
	return nil
}

// Import 导入备份，任何一步失败时返回 false 且不修改历史记录
func (s *Service) Import(ctx context.Context, data []byte, password string) bool {
	n, err := s.Restore(ctx, data, password)
	if err != nil {
		logrus.WithError(err).Warn("导入备份失败")
		return false
	}
	logrus.WithField("added", n).Info("备份已导入")
	return true
}

// ImportFile 从文件导入备份
func (s *Service) ImportFile(ctx context.Context, path, password string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("读取备份文件失败: %w", err)
	}
	return s.Restore(ctx, data, password)
}

// Restore 解析、解密并合并备份，返回新增的记录数
//
// 带盐值的备份用输入密码和备份中的盐值派生一次性密钥解密，不影响当前会话密钥；
// 没有盐值时先尝试会话密钥，再按明文处理。
func (s *Service) Restore(ctx context.Context, data []byte, password string) (int, error) {
	salt, verifier, payload, err := parseHeader(data)
	if err != nil {
		return 0, err
	}
	// 先用校验密文确认密码，再解密整个负载
	if len(salt) > 0 && len(verifier) > 0 && !crypto.VerifyWithCredentials(password, salt, verifier) {
		return 0, ErrDecrypt
	}

	pkg, err := s.open(salt, payload, password)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.store.Merge(pkg.Entries, pkg.Images)
}

func (s *Service) open(salt, payload []byte, password string) (*codec.Package, error) {
	var candidates [][]byte
	if len(salt) > 0 {
		plain, err := s.engine.DecryptWithCredentials(password, salt, payload)
		if err != nil {
			return nil, ErrDecrypt
		}
		candidates = append(candidates, plain)
	} else {
		if s.engine.Enabled() && s.engine.Unlocked() {
			if plain, err := s.engine.Decrypt(payload); err == nil {
				candidates = append(candidates, plain)
			}
		}
		candidates = append(candidates, payload)
	}

	var lastErr error
	for _, plain := range candidates {
		pkg, err := codec.DecodePackage(plain)
		if err == nil {
			return pkg, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func writeHeader(salt, verifier, payload []byte) []byte {
	out := make([]byte, 0, 8+len(salt)+len(verifier)+len(payload))
	out = binary.BigEndian.AppendUint32(out, uint32(len(salt)))
	out = append(out, salt...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(verifier)))
	out = append(out, verifier...)
	return append(out, payload...)
}

func parseHeader(data []byte) (salt, verifier, payload []byte, err error) {
	rest := data
	if salt, rest, err = readField(rest); err != nil {
		return nil, nil, nil, err
	}
	if verifier, rest, err = readField(rest); err != nil {
		return nil, nil, nil, err
	}
	return salt, verifier, rest, nil
}

func readField(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(data)
	if n > maxHeaderField || int(n) > len(data)-4 {
		return nil, nil, ErrTruncated
	}
	return data[4 : 4+n], data[4+n:], nil
}
