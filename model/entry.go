package model

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind 定义剪贴板内容类型
type Kind int

const (
	KindText  Kind = iota // 文本类型
	KindImage             // 图片类型
	KindFile              // 文件类型
)

// String 返回类型在存储格式中的标签
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindFile:
		return "file"
	default:
		return "text"
	}
}

// ParseKind 解析类型标签，未知或为空时按文本处理
func ParseKind(tag string) Kind {
	switch strings.ToLower(tag) {
	case "image":
		return KindImage
	case "file":
		return KindFile
	default:
		return KindText
	}
}

// ImageSuffix 图片数据文件的固定后缀
const ImageSuffix = ".img"

// Entry 表示一条剪贴板历史记录
type Entry struct {
	ID        string
	Kind      Kind
	Content   string    // 文本内容 / 图片说明 / 文件显示名
	CreatedAt time.Time // 创建时间，不可变
	Timestamp time.Time // 最近使用时间，重新选择时刷新
	IsPinned  bool
	ImageRef  string // 加密图片数据文件名
	FileRef   string // 文件绝对路径
}

// NewTextEntry 创建文本记录
func NewTextEntry(text string, now time.Time) Entry {
	return newEntry(KindText, text, now)
}

// NewImageEntry 创建图片记录，ref 为图片数据文件名
func NewImageEntry(caption, ref string, now time.Time) Entry {
	e := newEntry(KindImage, caption, now)
	e.ImageRef = ref
	return e
}

// NewFileEntry 创建文件记录，只保存路径，不复制文件
func NewFileEntry(path string, now time.Time) Entry {
	e := newEntry(KindFile, filepath.Base(path), now)
	e.FileRef = path
	return e
}

func newEntry(kind Kind, content string, now time.Time) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Kind:      kind,
		Content:   content,
		CreatedAt: now,
		Timestamp: now,
	}
}

// NewImageRef 生成新的图片数据文件名
func NewImageRef() string {
	return uuid.New().String() + ImageSuffix
}

// DedupKey 返回去重用的归一化内容；图片不参与去重，返回空字符串
func (e Entry) DedupKey() string {
	switch e.Kind {
	case KindText:
		return strings.TrimSpace(e.Content)
	case KindFile:
		if e.FileRef == "" {
			return ""
		}
		return filepath.Clean(e.FileRef)
	default:
		return ""
	}
}

// SameContent 判断两条记录的内容是否完全一致（忽略ID、时间和置顶状态）
func (e Entry) SameContent(o Entry) bool {
	return e.Kind == o.Kind &&
		e.Content == o.Content &&
		e.FileRef == o.FileRef &&
		e.ImageRef == o.ImageRef
}

// Payload 返回写回剪贴板的文本（文本内容或文件路径）
func (e Entry) Payload() string {
	if e.Kind == KindFile {
		return e.FileRef
	}
	return e.Content
}
