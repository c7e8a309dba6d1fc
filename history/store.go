// Package history 管理剪贴板历史：排序、去重、置顶、淘汰策略以及加密持久化。
//
// 所有对记录列表的修改都在同一把锁下串行执行；编码、压缩、加密和磁盘写入
// 放在后台保存协程或锁外完成，完成后只在锁内替换状态。
package history

import (
	"errors"
	"sync"
	"time"

	"clipvault/config"
	"clipvault/model"
	"clipvault/storage"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// 预定义错误变量
var (
	ErrNotFound     = errors.New("记录不存在")
	ErrEmptyContent = errors.New("内容为空")
	ErrDuplicateID  = errors.New("记录ID已存在")
	ErrNotLoaded    = errors.New("历史记录尚未加载")
	ErrLocked       = errors.New("历史记录已加密，需要先解锁")
	ErrCorrupt      = errors.New("历史记录无法解密或解码")
	ErrSaveFailed   = errors.New("保存历史记录失败")
	ErrClosed       = errors.New("历史记录已关闭")
)

// Cipher 加解密能力，由加密引擎提供
type Cipher interface {
	Enabled() bool
	Unlocked() bool
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// ClipboardSetter 把记录内容写回系统剪贴板
type ClipboardSetter interface {
	SetContent(entry model.Entry, image []byte) error
}

// Options 创建 Store 所需的依赖
type Options struct {
	Storage   storage.Storage
	Cipher    Cipher
	Config    config.StoreConfig
	Clipboard ClipboardSetter
	// OnAlert 接收需要提醒用户的严重错误（保存/加密失败）
	OnAlert func(error)
	Now     func() time.Time
}

// Store 剪贴板历史记录
type Store struct {
	mu         sync.Mutex
	entries    []model.Entry
	cfg        config.StoreConfig
	imageSizes map[string]int64
	loaded     bool
	clipboard  ClipboardSetter

	storage storage.Storage
	cipher  Cipher
	onAlert func(error)
	now     func() time.Time
	images  *cache.Cache

	subMu   sync.Mutex
	subs    map[int]chan []model.Entry
	nextSub int

	saveMu    sync.Mutex
	// keyMu 写入图片时共享持有，更换密钥时独占持有；加锁顺序为 saveMu 在前
	keyMu     sync.RWMutex
	saveCh    chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New 创建历史记录并启动后台保存协程；使用前需要调用 Load
func New(opts Options) *Store {
	s := &Store{
		cfg:        opts.Config,
		imageSizes: make(map[string]int64),
		clipboard:  opts.Clipboard,
		storage:    opts.Storage,
		cipher:     opts.Cipher,
		onAlert:    opts.OnAlert,
		now:        opts.Now,
		images:     cache.New(10*time.Minute, 5*time.Minute),
		subs:       make(map[int]chan []model.Entry),
		saveCh:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.onAlert == nil {
		s.onAlert = func(err error) {
			logrus.WithError(err).Error("历史记录需要用户处理的错误")
		}
	}

	s.wg.Add(1)
	go s.saveLoop()
	return s
}

// SetClipboard 设置写回剪贴板的实现（监听器创建后注入）
func (s *Store) SetClipboard(c ClipboardSetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipboard = c
}

// Config 返回当前策略配置
func (s *Store) Config() config.StoreConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig 应用新的策略配置并立即执行各项限制
func (s *Store) SetConfig(cfg config.StoreConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.EnforceCountLimit()
	s.EnforceRetention()
	s.EnforceSizeLimit()
}

// Items 返回当前记录的快照
func (s *Store) Items() []model.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get 按ID查找记录
func (s *Store) Get(id string) (model.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.entries[i], true
	}
	return model.Entry{}, false
}

// Len 记录数量
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Subscribe 订阅变化通知，通道中始终是最新快照；返回取消订阅函数
func (s *Store) Subscribe() (<-chan []model.Entry, func()) {
	ch := make(chan []model.Entry, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Close 停止后台保存协程并做最后一次保存
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		err = s.Save()
		if errors.Is(err, ErrNotLoaded) {
			err = nil
		}
		s.images.Flush()
	})
	return err
}

// closedErr Close 之后的写入不会再被保存
func (s *Store) closedErr() error {
	select {
	case <-s.done:
		return ErrClosed
	default:
		return nil
	}
}

// mutate 在锁内执行修改；有变化时通知订阅者、删除被移除记录的图片并安排保存
func (s *Store) mutate(fn func() (removed []model.Entry, changed bool)) bool {
	s.mu.Lock()
	removed, changed := fn()
	if changed {
		s.publishLocked()
	}
	s.mu.Unlock()

	if !changed {
		return false
	}
	s.dropImages(removed)
	s.requestSave()
	return true
}

// publishLocked 非阻塞推送；订阅者来不及读取时用新快照替换旧快照
func (s *Store) publishLocked() {
	snap := s.snapshotLocked()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) snapshotLocked() []model.Entry {
	out := make([]model.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) indexLocked(id string) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// pinnedCountLocked 置顶项总在最前面，返回未置顶分区的起始位置
func (s *Store) pinnedCountLocked() int {
	n := 0
	for n < len(s.entries) && s.entries[n].IsPinned {
		n++
	}
	return n
}

func (s *Store) removeAtLocked(i int) model.Entry {
	e := s.entries[i]
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return e
}

func (s *Store) insertAtLocked(i int, e model.Entry) {
	s.entries = append(s.entries, model.Entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}
