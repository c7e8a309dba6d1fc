package clipboard

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"clipvault/model"

	"github.com/skratchdot/open-golang/open"
)

// 预定义错误变量
var (
	ErrNoImageData  = errors.New("剪贴板中没有图片数据")
	ErrFileNotFound = errors.New("文件不存在")
)

// 作为图片保存的文件扩展名
var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {},
	".tif": {}, ".tiff": {}, ".webp": {}, ".heic": {},
}

// 超过该大小的图片文件按普通文件记录
const maxImageFileSize = 50 << 20

// Candidate 分类后的待添加内容
type Candidate struct {
	Kind    model.Kind
	Text    string // 文本内容
	Path    string // 文件路径
	Image   []byte // 图片数据
	Caption string // 图片说明
}

// Processor 剪贴板内容处理器
type Processor struct{}

// NewProcessor 创建内容处理器实例
func NewProcessor() *Processor {
	return &Processor{}
}

// Classify 按优先级分类剪贴板内容：
// 图片数据 > 图片扩展名的文件（读取文件内容按图片保存）> 其他文件 > 非空文本
func (p *Processor) Classify(text string, img []byte) []Candidate {
	if len(img) > 0 {
		return []Candidate{{Kind: model.KindImage, Image: img, Caption: imageCaption(img)}}
	}

	if paths := filePaths(text); len(paths) > 0 {
		out := make([]Candidate, 0, len(paths))
		for _, path := range paths {
			if data, ok := readImageFile(path); ok {
				out = append(out, Candidate{Kind: model.KindImage, Image: data, Caption: filepath.Base(path)})
				continue
			}
			out = append(out, Candidate{Kind: model.KindFile, Path: path})
		}
		return out
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []Candidate{{Kind: model.KindText, Text: text}}
}

// Open 用系统默认程序打开文件（用于预览）
func (p *Processor) Open(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return open.Start(path)
}

// OpenImage 把图片数据写入临时文件后打开
func (p *Processor) OpenImage(data []byte) error {
	if len(data) == 0 {
		return ErrNoImageData
	}
	ext := ".png"
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		ext = "." + format
	}

	f, err := os.CreateTemp("", "clipvault-*"+ext)
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return open.Start(f.Name())
}

func imageCaption(data []byte) string {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "图片内容"
	}
	return fmt.Sprintf("图片 %dx%d %s", cfg.Width, cfg.Height, strings.ToUpper(format))
}

// filePaths 把文本解析为已存在的文件路径列表；任意一行不是有效路径时按普通文本处理
func filePaths(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// 可能的路径分隔符
	parts := []string{text}
	for _, sep := range []string{"\r\n", "\n", "\t"} {
		if strings.Contains(text, sep) {
			parts = strings.Split(text, sep)
			break
		}
	}

	var paths []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		part = strings.TrimPrefix(part, "file://")
		if !filepath.IsAbs(part) {
			return nil
		}
		if _, err := os.Stat(part); err != nil {
			return nil
		}
		paths = append(paths, filepath.Clean(part))
	}
	return paths
}

func readImageFile(path string) ([]byte, bool) {
	if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
		return nil, false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 || info.Size() > maxImageFileSize {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}
