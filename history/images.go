package history

import (
	"errors"
	"fmt"

	"clipvault/model"
	"clipvault/storage"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// ImageData 返回图片记录的原始图片数据（已解密），结果缓存一段时间
func (s *Store) ImageData(ref string) ([]byte, error) {
	if v, ok := s.images.Get(ref); ok {
		return v.([]byte), nil
	}

	raw, err := s.storage.ReadImage(ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: 图片 %s", ErrNotFound, ref)
		}
		return nil, err
	}

	data, err := s.openBlob(raw)
	if err != nil {
		return nil, err
	}
	s.images.Set(ref, data, cache.DefaultExpiration)
	return data, nil
}

// openBlob 先尝试解密，失败时按未加密的旧数据处理
func (s *Store) openBlob(raw []byte) ([]byte, error) {
	if !s.cipher.Enabled() {
		return raw, nil
	}
	if !s.cipher.Unlocked() {
		return nil, ErrLocked
	}
	if plain, err := s.cipher.Decrypt(raw); err == nil {
		return plain, nil
	}
	return raw, nil
}

// writeImage 加密并保存图片数据，返回生成的文件名
func (s *Store) writeImage(data []byte) (string, error) {
	ref := model.NewImageRef()
	if err := s.storeImage(ref, data); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *Store) storeImage(ref string, data []byte) error {
	s.keyMu.RLock()
	defer s.keyMu.RUnlock()
	return s.writeBlob(ref, data)
}

// writeBlob 调用方持有 keyMu（共享或独占）
func (s *Store) writeBlob(ref string, data []byte) error {
	enc, err := s.cipher.Encrypt(data)
	if err != nil {
		return fmt.Errorf("加密图片失败: %w", err)
	}
	if err := s.storage.WriteImage(ref, enc); err != nil {
		return fmt.Errorf("保存图片失败: %w", err)
	}

	s.mu.Lock()
	s.imageSizes[ref] = int64(len(enc))
	s.mu.Unlock()
	s.images.Set(ref, data, cache.DefaultExpiration)
	return nil
}

func (s *Store) deleteImage(ref string) {
	s.images.Delete(ref)
	s.mu.Lock()
	delete(s.imageSizes, ref)
	s.mu.Unlock()

	if err := s.storage.DeleteImage(ref); err != nil {
		logrus.WithError(err).WithField("ref", ref).Warn("删除图片失败")
	}
}

// dropImages 删除被移除记录关联的图片数据
func (s *Store) dropImages(removed []model.Entry) {
	for _, e := range removed {
		if e.ImageRef != "" {
			s.deleteImage(e.ImageRef)
		}
	}
}

// dropMissingImages 丢弃图片数据已不存在的图片记录
func (s *Store) dropMissingImages(entries []model.Entry) []model.Entry {
	kept := entries[:0]
	for _, e := range entries {
		if e.Kind == model.KindImage {
			if e.ImageRef == "" {
				continue
			}
			size, err := s.storage.ImageSize(e.ImageRef)
			if errors.Is(err, storage.ErrNotFound) {
				logrus.WithField("ref", e.ImageRef).Warn("图片数据丢失，已移除对应记录")
				continue
			}
			if err == nil {
				s.mu.Lock()
				s.imageSizes[e.ImageRef] = size
				s.mu.Unlock()
			}
		}
		kept = append(kept, e)
	}
	return kept
}

// CleanupOrphans 删除没有记录引用的图片数据
//
// 刚写入、记录尚未插入的图片已登记在 imageSizes 中，不会被误删。
func (s *Store) CleanupOrphans() {
	names, err := s.storage.ListImages()
	if err != nil {
		logrus.WithError(err).Warn("列出图片数据失败")
		return
	}

	s.mu.Lock()
	live := make(map[string]struct{}, len(s.entries)+len(s.imageSizes))
	for _, e := range s.entries {
		if e.ImageRef != "" {
			live[e.ImageRef] = struct{}{}
		}
	}
	for ref := range s.imageSizes {
		live[ref] = struct{}{}
	}
	s.mu.Unlock()

	for _, name := range names {
		if _, ok := live[name]; ok {
			continue
		}
		logrus.WithField("ref", name).Debug("删除无主图片数据")
		s.deleteImage(name)
	}
}
