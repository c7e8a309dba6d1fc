package clipboard

import (
	"crypto/md5"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.design/x/clipboard"
)

// ErrImageUnsupported 当前剪贴板实现不支持图片
var ErrImageUnsupported = errors.New("当前剪贴板不支持图片")

// Pasteboard 系统剪贴板
//
// ChangeCount 在内容每次变化后递增，监听器据此判断是否有新内容。
type Pasteboard interface {
	ChangeCount() int64
	ReadText() string
	ReadImage() []byte
	WriteText(text string) error
	WriteImage(data []byte) error
}

// NewSystemPasteboard 优先使用支持图片的系统剪贴板，初始化失败时退回只支持文本的实现
func NewSystemPasteboard() (Pasteboard, error) {
	if err := clipboard.Init(); err != nil {
		logrus.WithError(err).Warn("剪贴板初始化失败，退回纯文本模式")
		tp, terr := newTextPasteboard()
		if terr != nil {
			return nil, fmt.Errorf("剪贴板初始化失败: %w", err)
		}
		return tp, nil
	}
	return &systemPasteboard{}, nil
}

// systemPasteboard 基于 golang.design/x/clipboard
//
// 该库没有变化计数，用当前文本和图片的 MD5 指纹模拟：指纹变化时计数加一。
type systemPasteboard struct {
	mu          sync.Mutex
	count       int64
	fingerprint [md5.Size]byte
}

func (p *systemPasteboard) ChangeCount() int64 {
	h := md5.New()
	h.Write(clipboard.Read(clipboard.FmtText))
	h.Write([]byte{0})
	h.Write(clipboard.Read(clipboard.FmtImage))

	var fp [md5.Size]byte
	copy(fp[:], h.Sum(nil))

	p.mu.Lock()
	defer p.mu.Unlock()
	if fp != p.fingerprint {
		p.fingerprint = fp
		p.count++
	}
	return p.count
}

func (p *systemPasteboard) ReadText() string {
	return string(clipboard.Read(clipboard.FmtText))
}

func (p *systemPasteboard) ReadImage() []byte {
	return clipboard.Read(clipboard.FmtImage)
}

func (p *systemPasteboard) WriteText(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func (p *systemPasteboard) WriteImage(data []byte) error {
	if len(data) == 0 {
		return ErrNoImageData
	}
	clipboard.Write(clipboard.FmtImage, data)
	return nil
}
