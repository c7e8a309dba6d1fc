package history

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"clipvault/codec"
	"clipvault/model"
	"clipvault/storage"

	"github.com/sirupsen/logrus"
)

// Save 立即保存当前记录：编码、按配置压缩、加密后原子写入
//
// 加密失败时不写入任何内容（不会用明文覆盖），错误包装为 ErrSaveFailed。
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saveLocked()
}

// saveLocked 调用方持有 saveMu；快照在 saveMu 内获取，保证后写入的总是更新的快照
func (s *Store) saveLocked() error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	snap := s.snapshotLocked()
	compress := s.cfg.Compression
	s.mu.Unlock()

	data, err := codec.Encode(snap, compress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	enc, err := s.cipher.Encrypt(data)
	if err != nil {
		return fmt.Errorf("%w: 加密失败: %v", ErrSaveFailed, err)
	}
	if err := s.storage.WriteHistory(enc); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

func (s *Store) requestSave() {
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop 后台保存协程，合并连续的保存请求
func (s *Store) saveLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.saveCh:
			if err := s.Save(); err != nil && !errors.Is(err, ErrNotLoaded) {
				s.onAlert(err)
			}
		}
	}
}

// Load 加载历史记录
//
// 依次尝试：解密后解码；按明文解码（加密开关变更前写入的数据）；
// 旧版未加密存储（迁移后以新格式写回并删除旧数据）。
// 全部失败时返回错误且不修改内存状态；没有任何历史数据时得到空列表。
func (s *Store) Load() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	entries, legacyImages, err := s.readEntries()
	if err != nil {
		return err
	}
	migrated := legacyImages != nil

	s.mu.Lock()
	s.imageSizes = make(map[string]int64)
	s.mu.Unlock()

	complete := true
	if migrated {
		if complete, err = s.migrateLegacyImages(entries, legacyImages); err != nil {
			return err
		}
	}

	entries = partitionPinned(s.dropMissingImages(entries))

	s.mu.Lock()
	s.entries = entries
	s.loaded = true
	s.publishLocked()
	s.mu.Unlock()
	s.images.Flush()

	if migrated {
		if err := s.saveLocked(); err != nil {
			s.onAlert(err)
		} else if !complete {
			logrus.Warn("部分旧版图片无法读取，保留旧版历史记录")
		} else if err := s.storage.RemoveLegacyHistory(); err != nil {
			logrus.WithError(err).Warn("删除旧版历史记录失败")
		} else {
			logrus.WithField("count", len(entries)).Info("旧版历史记录已迁移")
		}
	}

	s.CleanupOrphans()
	return nil
}

// readEntries 读取记录；来自旧版存储时 legacyImages 非 nil（记录 id 到旧版图片文件路径）
func (s *Store) readEntries() (entries []model.Entry, legacyImages map[string]string, err error) {
	data, err := s.storage.ReadHistory()
	if errors.Is(err, storage.ErrNotFound) {
		return s.readLegacy()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("读取历史记录失败: %w", err)
	}

	if s.cipher.Enabled() {
		if !s.cipher.Unlocked() {
			return nil, nil, ErrLocked
		}
		if plain, err := s.cipher.Decrypt(data); err == nil {
			if entries, err := codec.Decode(plain); err == nil {
				return entries, nil, nil
			}
		}
	}

	entries, err = codec.Decode(data)
	if err != nil {
		logrus.WithError(err).Error("历史记录无法解码")
		return nil, nil, ErrCorrupt
	}
	return entries, nil, nil
}

func (s *Store) readLegacy() ([]model.Entry, map[string]string, error) {
	data, err := s.storage.ReadLegacyHistory()
	if errors.Is(err, storage.ErrNotFound) {
		return []model.Entry{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("读取旧版历史记录失败: %w", err)
	}

	entries, imagePaths, err := codec.DecodeLegacy(data)
	if err != nil {
		logrus.WithError(err).Error("旧版历史记录无法解码")
		return nil, nil, ErrCorrupt
	}
	return entries, imagePaths, nil
}

// migrateLegacyImages 把旧版图片文件加密保存为图片数据，并回填记录的 ImageRef
//
// 图片文件已不存在时该记录无法迁移，返回 complete=false；其他读取或写入错误
// 直接返回，旧版历史记录保持不变。
func (s *Store) migrateLegacyImages(entries []model.Entry, imagePaths map[string]string) (complete bool, err error) {
	if len(imagePaths) == 0 {
		return true, nil
	}
	if s.cipher.Enabled() && !s.cipher.Unlocked() {
		return false, ErrLocked
	}

	complete = true
	for i := range entries {
		path, ok := imagePaths[entries[i].ID]
		if !ok {
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
			logrus.WithField("path", path).Warn("旧版图片文件不存在，无法迁移")
			complete = false
			continue
		}
		if err != nil {
			return false, fmt.Errorf("读取旧版图片失败: %w", err)
		}

		ref, err := s.writeImage(data)
		if err != nil {
			return false, err
		}
		entries[i].ImageRef = ref
		if entries[i].Content == "" {
			entries[i].Content = filepath.Base(path)
		}
	}
	return complete, nil
}
