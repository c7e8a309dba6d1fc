package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clipvault/config"

	"github.com/google/renameio/v2"
)

// ErrNotFound 请求的数据不存在
var ErrNotFound = errors.New("数据不存在")

// ErrInvalidName 图片数据名不合法
var ErrInvalidName = errors.New("无效的图片数据名")

const (
	historyFileName       = "history.dat"
	legacyHistoryFileName = "history.json"
	imageDirName          = "images"
)

// FileStorage 本地文件存储实现
type FileStorage struct {
	filePath   string
	legacyPath string
	imagePath  string
}

// NewFileStorage 创建文件存储实例
func NewFileStorage(cfg *config.StorageConfig) (*FileStorage, error) {
	storagePath := cfg.DataPath
	if storagePath == "" {
		storagePath = config.Default().Storage.DataPath
	}

	// 图片存储目录 - 始终在选定的存储路径下
	imagePath := filepath.Join(storagePath, imageDirName)
	if err := os.MkdirAll(imagePath, 0o700); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	s := &FileStorage{
		filePath:  filepath.Join(storagePath, historyFileName),
		imagePath: imagePath,
	}
	if cfg.LegacyPath != "" {
		s.legacyPath = filepath.Join(cfg.LegacyPath, legacyHistoryFileName)
	}
	return s, nil
}

// ReadHistory 读取历史记录文件
func (s *FileStorage) ReadHistory() ([]byte, error) {
	return readFile(s.filePath)
}

// WriteHistory 写入临时文件后替换，避免崩溃时留下半截文件
func (s *FileStorage) WriteHistory(data []byte) error {
	return renameio.WriteFile(s.filePath, data, 0o600)
}

// ReadLegacyHistory 读取旧版 history.json
func (s *FileStorage) ReadLegacyHistory() ([]byte, error) {
	if s.legacyPath == "" {
		return nil, ErrNotFound
	}
	return readFile(s.legacyPath)
}

// RemoveLegacyHistory 删除旧版 history.json
func (s *FileStorage) RemoveLegacyHistory() error {
	if s.legacyPath == "" {
		return nil
	}
	if err := os.Remove(s.legacyPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteImage 写入图片数据
func (s *FileStorage) WriteImage(name string, data []byte) error {
	path, err := s.imageFile(name)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o600)
}

// ReadImage 读取图片数据
func (s *FileStorage) ReadImage(name string) ([]byte, error) {
	path, err := s.imageFile(name)
	if err != nil {
		return nil, err
	}
	return readFile(path)
}

// DeleteImage 删除图片数据
func (s *FileStorage) DeleteImage(name string) error {
	path, err := s.imageFile(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListImages 列出图片目录中的数据文件，忽略临时文件和子目录
func (s *FileStorage) ListImages() ([]string, error) {
	dirEntries, err := os.ReadDir(s.imagePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		names = append(names, de.Name())
	}
	return names, nil
}

// ImageSize 返回图片数据文件大小
func (s *FileStorage) ImageSize(name string) (int64, error) {
	path, err := s.imageFile(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close 关闭存储
func (s *FileStorage) Close() error {
	return nil
}

func (s *FileStorage) imageFile(name string) (string, error) {
	if !ValidImageName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.imagePath, name), nil
}

// ValidImageName 图片数据名只能是单个文件名
func ValidImageName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, `/\`) &&
		filepath.Base(name) == name
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}
