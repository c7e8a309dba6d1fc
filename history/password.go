package history

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PrepareForPasswordChange 用当前密钥解密所有图片，结果保存在内存中
//
// 密码更换是用户主动触发的前台操作，短时间内持有全部图片数据可以接受。
func (s *Store) PrepareForPasswordChange(ctx context.Context) (map[string][]byte, error) {
	var refs []string
	for _, e := range s.Items() {
		if e.ImageRef != "" {
			refs = append(refs, e.ImageRef)
		}
	}

	var mu sync.Mutex
	blobs := make(map[string][]byte, len(refs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := s.ImageData(ref)
			if errors.Is(err, ErrNotFound) {
				logrus.WithField("ref", ref).Warn("图片数据丢失，跳过重新加密")
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			blobs[ref] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blobs, nil
}

// CompletePasswordChange 用新密钥重新加密图片并重写历史记录
func (s *Store) CompletePasswordChange(ctx context.Context, blobs map[string][]byte) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	return s.completeLocked(ctx, blobs)
}

// completeLocked 调用方持有 saveMu 和 keyMu
func (s *Store) completeLocked(ctx context.Context, blobs map[string][]byte) error {
	for ref, data := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeBlob(ref, data); err != nil {
			return err
		}
	}
	return s.saveLocked()
}

// RotateKey 两阶段更换密钥：先解密全部图片，执行 rotate（设置/删除密码），
// 再用新密钥写回。
//
// 整个过程持有保存锁和密钥锁：后台保存不会穿插进来，新图片（捕获或导入）
// 要等新密钥生效后才写入，不会留下旧密钥加密、之后无法读取的图片。
func (s *Store) RotateKey(ctx context.Context, rotate func() error) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	blobs, err := s.PrepareForPasswordChange(ctx)
	if err != nil {
		return err
	}

	if err := rotate(); err != nil {
		return err
	}
	// 密钥已更换，后续步骤不能因为 ctx 取消而中断，否则图片会停留在旧密钥下
	if err := s.completeLocked(context.WithoutCancel(ctx), blobs); err != nil {
		s.onAlert(err)
		return err
	}
	logrus.WithField("images", len(blobs)).Info("密钥已更换，数据已重新加密")
	return nil
}
