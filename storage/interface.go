package storage

import "clipvault/storage/driver"

// ErrNotFound 请求的数据不存在
var ErrNotFound = driver.ErrNotFound

// Storage 持久化接口定义
//
// 历史记录和图片数据对存储层都是不透明的字节（可能已加密/压缩）。
// 写入必须是原子的：崩溃后要么是旧内容，要么是新内容。
type Storage interface {
	// ReadHistory 读取历史记录，不存在时返回 ErrNotFound
	ReadHistory() ([]byte, error)

	// WriteHistory 原子写入历史记录
	WriteHistory(data []byte) error

	// ReadLegacyHistory 读取旧版未加密存储，不存在时返回 ErrNotFound
	ReadLegacyHistory() ([]byte, error)

	// RemoveLegacyHistory 迁移完成后删除旧版存储
	RemoveLegacyHistory() error

	// WriteImage 原子写入图片数据
	WriteImage(name string, data []byte) error

	// ReadImage 读取图片数据，不存在时返回 ErrNotFound
	ReadImage(name string) ([]byte, error)

	// DeleteImage 删除图片数据，不存在时不报错
	DeleteImage(name string) error

	// ListImages 列出所有图片数据名
	ListImages() ([]string, error)

	// ImageSize 返回图片数据大小，不存在时返回 ErrNotFound
	ImageSize(name string) (int64, error)

	// 关闭存储
	Close() error
}
