package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"clipvault/model"

	"github.com/sirupsen/logrus"
)

// Add 添加记录
//
// 与第一条记录完全相同时忽略；否则先移除未置顶分区中内容相同的文本/文件记录，
// 再插入到未置顶分区的最前面，然后执行数量限制。
func (s *Store) Add(e model.Entry) error {
	_, err := s.add(e)
	return err
}

func (s *Store) add(e model.Entry) (bool, error) {
	if err := s.closedErr(); err != nil {
		return false, err
	}
	if e.ID == "" {
		return false, errors.New("记录缺少ID")
	}
	if e.Kind == model.KindText && strings.TrimSpace(e.Content) == "" {
		return false, ErrEmptyContent
	}
	if e.Kind == model.KindFile && e.FileRef == "" {
		return false, ErrEmptyContent
	}
	if e.Kind == model.KindImage && e.ImageRef == "" {
		return false, ErrEmptyContent
	}

	var dupErr error
	added := s.mutate(func() ([]model.Entry, bool) {
		if s.indexLocked(e.ID) >= 0 {
			dupErr = ErrDuplicateID
			return nil, false
		}

		head := s.pinnedCountLocked()
		if len(s.entries) > 0 && s.entries[0].SameContent(e) {
			return nil, false
		}
		if head < len(s.entries) && s.entries[head].SameContent(e) {
			return nil, false
		}

		var removed []model.Entry
		if key := e.DedupKey(); key != "" {
			for i := len(s.entries) - 1; i >= head; i-- {
				old := s.entries[i]
				if old.Kind == e.Kind && old.DedupKey() == key {
					removed = append(removed, s.removeAtLocked(i))
				}
			}
		}

		e.IsPinned = false
		s.insertAtLocked(head, e)
		removed = append(removed, s.enforceCountLimitLocked()...)
		return removed, true
	})
	if dupErr != nil {
		return false, dupErr
	}
	return added, nil
}

// AddText 添加文本记录，去掉首尾空白后为空时返回 ErrEmptyContent
func (s *Store) AddText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyContent
	}
	return s.Add(model.NewTextEntry(text, s.now()))
}

// AddFile 添加文件引用记录，只保存路径
func (s *Store) AddFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyContent
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("获取文件绝对路径失败: %w", err)
	}
	return s.Add(model.NewFileEntry(abs, s.now()))
}

// AddImage 加密保存图片数据后添加图片记录
func (s *Store) AddImage(data []byte, caption string) error {
	if len(data) == 0 {
		return ErrEmptyContent
	}
	if err := s.closedErr(); err != nil {
		return err
	}

	ref, err := s.writeImage(data)
	if err != nil {
		return err
	}

	added, err := s.add(model.NewImageEntry(caption, ref, s.now()))
	if err != nil || !added {
		s.deleteImage(ref)
	}
	return err
}

// Select 把记录写回剪贴板；未置顶记录移动到未置顶分区最前面并刷新时间
func (s *Store) Select(id string) error {
	e, ok := s.Get(id)
	if !ok {
		return ErrNotFound
	}

	var image []byte
	if e.Kind == model.KindImage {
		data, err := s.ImageData(e.ImageRef)
		if err != nil {
			return fmt.Errorf("读取图片失败: %w", err)
		}
		image = data
	}

	s.mu.Lock()
	clip := s.clipboard
	s.mu.Unlock()
	if clip != nil {
		if err := clip.SetContent(e, image); err != nil {
			return fmt.Errorf("写入剪贴板失败: %w", err)
		}
	}

	var missing bool
	s.mutate(func() ([]model.Entry, bool) {
		i := s.indexLocked(id)
		if i < 0 {
			missing = true
			return nil, false
		}
		if s.entries[i].IsPinned {
			return nil, false
		}
		moved := s.removeAtLocked(i)
		moved.Timestamp = s.now()
		s.insertAtLocked(s.pinnedCountLocked(), moved)
		return nil, true
	})
	if missing {
		return ErrNotFound
	}
	return nil
}

// Delete 删除记录及其图片数据
func (s *Store) Delete(id string) error {
	found := false
	s.mutate(func() ([]model.Entry, bool) {
		i := s.indexLocked(id)
		if i < 0 {
			return nil, false
		}
		found = true
		return []model.Entry{s.removeAtLocked(i)}, true
	})
	if !found {
		return ErrNotFound
	}
	return nil
}

// TogglePin 切换置顶状态：新置顶的放到最前面，取消置顶的放到未置顶分区最前面
func (s *Store) TogglePin(id string) error {
	found := false
	s.mutate(func() ([]model.Entry, bool) {
		i := s.indexLocked(id)
		if i < 0 {
			return nil, false
		}
		found = true
		e := s.removeAtLocked(i)
		e.IsPinned = !e.IsPinned
		if e.IsPinned {
			s.insertAtLocked(0, e)
		} else {
			s.insertAtLocked(s.pinnedCountLocked(), e)
		}
		return nil, true
	})
	if !found {
		return ErrNotFound
	}
	return nil
}

// Clear 删除所有未置顶记录；includePinned 为真时同时删除置顶记录
func (s *Store) Clear(includePinned bool) {
	s.mutate(func() ([]model.Entry, bool) {
		var kept, removed []model.Entry
		for _, e := range s.entries {
			if e.IsPinned && !includePinned {
				kept = append(kept, e)
			} else {
				removed = append(removed, e)
			}
		}
		if len(removed) == 0 {
			return nil, false
		}
		s.entries = kept
		return removed, true
	})
}

// Merge 合并外部记录（备份导入）
//
// 只添加ID尚不存在的记录；图片用当前会话密钥重新加密后以新文件名保存，
// 缺少图片数据的图片记录被跳过。合并后按置顶优先、时间倒序重新排序。
// 返回新增的记录数。
func (s *Store) Merge(entries []model.Entry, images map[string][]byte) (int, error) {
	if err := s.closedErr(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return 0, ErrNotLoaded
	}
	present := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		present[e.ID] = struct{}{}
	}
	s.mu.Unlock()

	var (
		incoming []model.Entry
		written  []string
	)
	rollback := func() {
		for _, ref := range written {
			s.deleteImage(ref)
		}
	}

	for _, e := range entries {
		if _, ok := present[e.ID]; ok || e.ID == "" {
			continue
		}
		present[e.ID] = struct{}{}

		if e.Kind == model.KindImage {
			data, ok := images[e.ImageRef]
			if !ok || len(data) == 0 {
				logrus.WithField("id", e.ID).Warn("导入的图片记录缺少图片数据，已跳过")
				continue
			}
			ref, err := s.writeImage(data)
			if err != nil {
				rollback()
				return 0, err
			}
			written = append(written, ref)
			e.ImageRef = ref
		}
		incoming = append(incoming, e)
	}

	if len(incoming) == 0 {
		return 0, nil
	}

	var added int
	var evicted []model.Entry
	s.mutate(func() ([]model.Entry, bool) {
		for _, e := range incoming {
			if s.indexLocked(e.ID) >= 0 {
				if e.ImageRef != "" {
					evicted = append(evicted, e)
				}
				continue
			}
			s.entries = append(s.entries, e)
			added++
		}
		sortEntries(s.entries)
		removed := s.enforceCountLimitLocked()
		return removed, added > 0 || len(removed) > 0
	})
	s.dropImages(evicted)
	return added, nil
}

// sortEntries 置顶优先，其次按时间倒序
func sortEntries(entries []model.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsPinned != entries[j].IsPinned {
			return entries[i].IsPinned
		}
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

// partitionPinned 稳定地把置顶项移到前面，不改变各分区内部顺序
func partitionPinned(entries []model.Entry) []model.Entry {
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsPinned {
			out = append(out, e)
		}
	}
	for _, e := range entries {
		if !e.IsPinned {
			out = append(out, e)
		}
	}
	return out
}
