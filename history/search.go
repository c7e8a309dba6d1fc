package history

import (
	"context"
	"errors"
	"strings"
	"sync"

	"clipvault/model"
)

// ErrSuperseded 搜索已被更新的请求取代
var ErrSuperseded = errors.New("搜索已被新的请求取代")

// Search 按关键字过滤记录（不区分大小写，匹配内容和文件路径）
func (s *Store) Search(keyword string) []model.Entry {
	items := s.Items()
	if keyword == "" {
		return items
	}

	needle := strings.ToLower(keyword)
	var results []model.Entry
	for _, e := range items {
		if matches(e, needle) {
			results = append(results, e)
		}
	}
	return results
}

func matches(e model.Entry, needle string) bool {
	return strings.Contains(strings.ToLower(e.Content), needle) ||
		(e.FileRef != "" && strings.Contains(strings.ToLower(e.FileRef), needle))
}

// Searcher 以最后一次请求为准的搜索：新请求开始时取消仍在进行的旧请求，
// 旧请求的结果即使已经算完也会被丢弃。
type Searcher struct {
	store *Store

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewSearcher 创建搜索器
func NewSearcher(store *Store) *Searcher {
	return &Searcher{store: store}
}

// Search 执行搜索；被更新的请求取代时返回 ErrSuperseded
func (q *Searcher) Search(ctx context.Context, keyword string) ([]model.Entry, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.gen++
	gen := q.gen
	q.cancel = cancel
	q.mu.Unlock()

	items := q.store.Items()
	needle := strings.ToLower(keyword)
	results := make([]model.Entry, 0, len(items))
	for i, e := range items {
		if i%64 == 0 && ctx.Err() != nil {
			return nil, q.staleErr(ctx, gen)
		}
		if needle == "" || matches(e, needle) {
			results = append(results, e)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return nil, ErrSuperseded
	}
	q.cancel = nil
	return results, nil
}

func (q *Searcher) staleErr(ctx context.Context, gen uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return ErrSuperseded
	}
	return ctx.Err()
}
