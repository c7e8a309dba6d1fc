package clipboard

import (
	"errors"
	"sync"

	atotto "github.com/atotto/clipboard"
)

// textPasteboard 只支持文本的剪贴板（无 cgo 或无图形环境时使用）
type textPasteboard struct {
	mu    sync.Mutex
	count int64
	last  string
}

func newTextPasteboard() (*textPasteboard, error) {
	if atotto.Unsupported {
		return nil, errors.New("系统不支持剪贴板")
	}
	return &textPasteboard{}, nil
}

func (p *textPasteboard) ChangeCount() int64 {
	text := p.ReadText()

	p.mu.Lock()
	defer p.mu.Unlock()
	if text != p.last {
		p.last = text
		p.count++
	}
	return p.count
}

func (p *textPasteboard) ReadText() string {
	text, err := atotto.ReadAll()
	if err != nil {
		return ""
	}
	return text
}

func (p *textPasteboard) ReadImage() []byte {
	return nil
}

func (p *textPasteboard) WriteText(text string) error {
	return atotto.WriteAll(text)
}

func (p *textPasteboard) WriteImage([]byte) error {
	return ErrImageUnsupported
}
