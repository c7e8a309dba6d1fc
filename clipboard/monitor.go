package clipboard

import (
	"errors"
	"sync"
	"time"

	"clipvault/model"

	"github.com/sirupsen/logrus"
)

// DefaultInterval 剪贴板轮询间隔
const DefaultInterval = 500 * time.Millisecond

// Sink 接收分类后的新内容（历史记录）
type Sink interface {
	AddText(text string) error
	AddFile(path string) error
	AddImage(data []byte, caption string) error
}

// Monitor 剪贴板监听器
type Monitor struct {
	board     Pasteboard // 系统剪贴板
	processor *Processor // 内容分类
	sink      Sink
	interval  time.Duration
	StopChan  chan struct{} // 停止信号通道

	mu         sync.Mutex
	lastChange int64 // 上次处理过的变化计数
	running    bool
	wg         sync.WaitGroup
}

// NewMonitor 创建剪贴板监听器
func NewMonitor(board Pasteboard, processor *Processor, sink Sink) *Monitor {
	return &Monitor{
		board:     board,
		processor: processor,
		sink:      sink,
		interval:  DefaultInterval,
		StopChan:  make(chan struct{}),
	}
}

// Start 开始监听剪贴板变化；启动前已有的内容不会被记录
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("监控器已在运行中")
	}
	select {
	case <-m.StopChan:
		return errors.New("监控器已停止")
	default:
	}

	m.running = true
	m.lastChange = m.board.ChangeCount()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.StopChan:
				return
			case <-ticker.C:
				m.checkClipboard()
			}
		}
	}()
	return nil
}

// Stop 停止监听剪贴板并等待轮询协程退出
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.StopChan)
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning 检查监控器是否在运行
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SetContent 把记录写回剪贴板，并记下写入后的变化计数，避免把自己的写入再次记录
func (m *Monitor) SetContent(entry model.Entry, image []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	switch entry.Kind {
	case model.KindImage:
		err = m.board.WriteImage(image)
	default:
		err = m.board.WriteText(entry.Payload())
	}
	if err != nil {
		return err
	}
	m.lastChange = m.board.ChangeCount()
	return nil
}

// checkClipboard 检查剪贴板变化，把新内容交给 sink
func (m *Monitor) checkClipboard() int {
	m.mu.Lock()
	count := m.board.ChangeCount()
	if count == m.lastChange {
		m.mu.Unlock()
		return 0
	}
	m.lastChange = count
	img := m.board.ReadImage()
	text := m.board.ReadText()
	m.mu.Unlock()

	added := 0
	for _, c := range m.processor.Classify(text, img) {
		if err := m.deliver(c); err != nil {
			logrus.WithError(err).WithField("kind", c.Kind.String()).Warn("保存剪贴板内容失败")
			continue
		}
		added++
	}
	if added > 0 {
		logrus.WithField("count", added).Debug("检测到剪贴板变化")
	}
	return added
}

func (m *Monitor) deliver(c Candidate) error {
	switch c.Kind {
	case model.KindImage:
		return m.sink.AddImage(c.Image, c.Caption)
	case model.KindFile:
		return m.sink.AddFile(c.Path)
	default:
		return m.sink.AddText(c.Text)
	}
}
