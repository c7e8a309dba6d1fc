package history

import (
	"errors"
	"sort"
	"time"

	"clipvault/codec"
	"clipvault/crypto"
	"clipvault/model"
	"clipvault/storage"

	"github.com/sirupsen/logrus"
)

// sizeSafetyMargin 超出上限后清理到上限的 90% 以下，避免每次新增都触发清理
const sizeSafetyMargin = 0.9

// EnforceCountLimit 执行数量限制
func (s *Store) EnforceCountLimit() {
	s.mutate(func() ([]model.Entry, bool) {
		removed := s.enforceCountLimitLocked()
		return removed, len(removed) > 0
	})
}

// enforceCountLimitLocked 从未置顶分区末尾开始删除；只剩置顶项时停止，置顶项不会因数量被删除
func (s *Store) enforceCountLimitLocked() []model.Entry {
	limit := s.cfg.MaxItems
	if limit <= 0 {
		return nil
	}

	var removed []model.Entry
	for len(s.entries) > limit {
		victim := -1
		for i := len(s.entries) - 1; i >= 0; i-- {
			if !s.entries[i].IsPinned {
				victim = i
				break
			}
		}
		if victim < 0 {
			break
		}
		removed = append(removed, s.removeAtLocked(victim))
	}
	return removed
}

// EnforceRetention 按类型保留天数删除过期的未置顶记录
//
// -1 永不过期；0 删除该类型所有未置顶记录。
func (s *Store) EnforceRetention() {
	s.mutate(func() ([]model.Entry, bool) {
		now := s.now()
		var kept, removed []model.Entry
		for _, e := range s.entries {
			if !e.IsPinned && expired(e, s.cfg.RetentionDays(e.Kind), now) {
				removed = append(removed, e)
				continue
			}
			kept = append(kept, e)
		}
		if len(removed) == 0 {
			return nil, false
		}
		s.entries = kept
		logrus.WithField("count", len(removed)).Info("已清理过期的历史记录")
		return removed, true
	})
}

func expired(e model.Entry, days int, now time.Time) bool {
	switch {
	case days < 0:
		return false
	case days == 0:
		return true
	default:
		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
		return e.Timestamp.Before(cutoff)
	}
}

// EnforceSizeLimit 总占用超过上限时，从最旧的未置顶记录开始删除
//
// 占用 = 编码（压缩、加密）后的历史记录大小 + 图片数据文件的实际大小。
// 估算在锁外完成，锁内只删除选中的记录。
func (s *Store) EnforceSizeLimit() {
	s.mu.Lock()
	ceiling := s.cfg.MaxStorageBytes
	compress := s.cfg.Compression
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if ceiling <= 0 || len(snap) == 0 {
		return
	}

	victims := s.selectSizeVictims(snap, ceiling, compress)
	if len(victims) == 0 {
		return
	}

	s.mutate(func() ([]model.Entry, bool) {
		var removed []model.Entry
		for id := range victims {
			if i := s.indexLocked(id); i >= 0 && !s.entries[i].IsPinned {
				removed = append(removed, s.removeAtLocked(i))
			}
		}
		if len(removed) > 0 {
			logrus.WithField("count", len(removed)).Info("存储空间超出上限，已删除最旧的记录")
		}
		return removed, len(removed) > 0
	})
}

func (s *Store) selectSizeVictims(snap []model.Entry, ceiling int64, compress bool) map[string]struct{} {
	rawSize, encodedSize := s.historySize(snap, compress)

	var blobTotal int64
	blobSizes := make(map[string]int64)
	for _, e := range snap {
		if e.ImageRef == "" {
			continue
		}
		size := s.imageSize(e.ImageRef)
		blobSizes[e.ImageRef] = size
		blobTotal += size
	}

	total := encodedSize + blobTotal
	if total <= ceiling {
		return nil
	}

	// 单条记录在编码后所占的大小按整体压缩比估算
	ratio := 1.0
	if rawSize > 0 {
		ratio = float64(encodedSize) / float64(rawSize)
	}

	var candidates []model.Entry
	for _, e := range snap {
		if !e.IsPinned {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})

	target := int64(float64(ceiling) * sizeSafetyMargin)
	victims := make(map[string]struct{})
	for _, e := range candidates {
		if total <= target {
			break
		}
		victims[e.ID] = struct{}{}
		total -= blobSizes[e.ImageRef] + int64(float64(approxRecordSize(e))*ratio)
	}
	return victims
}

// historySize 返回未压缩的序列化大小和实际写入大小的估算
func (s *Store) historySize(snap []model.Entry, compress bool) (raw, encoded int64) {
	plain, err := codec.Encode(snap, false)
	if err != nil {
		return 0, 0
	}
	raw = int64(len(plain))
	encoded = raw
	if compress {
		if c, err := codec.Compress(plain); err == nil {
			encoded = int64(len(c))
		}
	}
	if s.cipher != nil && s.cipher.Enabled() {
		encoded += int64(crypto.Overhead())
	}
	return raw, encoded
}

func approxRecordSize(e model.Entry) int {
	// 字段名、时间戳等固定开销约 160 字节
	return 160 + len(e.ID) + len(e.Content) + len(e.ImageRef) + len(e.FileRef)
}

// imageSize 优先使用缓存的大小，否则读取存储中的实际大小
func (s *Store) imageSize(ref string) int64 {
	s.mu.Lock()
	size, ok := s.imageSizes[ref]
	s.mu.Unlock()
	if ok {
		return size
	}

	size, err := s.storage.ImageSize(ref)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logrus.WithError(err).WithField("ref", ref).Warn("读取图片大小失败")
		}
		return 0
	}
	s.mu.Lock()
	s.imageSizes[ref] = size
	s.mu.Unlock()
	return size
}
