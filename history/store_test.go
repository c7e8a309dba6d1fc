package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"clipvault/model"
	"clipvault/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_NewestFirstAfterPinned(t *testing.T) {
	s, env := newLoadedStore(t)

	require.NoError(t, s.AddText("a"))
	env.clock.Advance(time.Second)
	require.NoError(t, s.AddText("b"))
	require.NoError(t, s.TogglePin(findByContent(t, s, "a").ID))

	env.clock.Advance(time.Second)
	require.NoError(t, s.AddText("c"))

	assert.Equal(t, []string{"a", "c", "b"}, contents(s.Items()))
	assert.True(t, s.Items()[0].IsPinned)
}

func TestAdd_HeadDuplicateIsIgnored(t *testing.T) {
	s, _ := newLoadedStore(t)

	require.NoError(t, s.AddText("same"))
	first := s.Items()[0]
	require.NoError(t, s.AddText("same"))

	require.Equal(t, 1, s.Len())
	assert.Equal(t, first.ID, s.Items()[0].ID)
}

func TestAdd_DuplicateMovesToTop(t *testing.T) {
	s, env := newLoadedStore(t)

	for _, text := range []string{"hello", "world", "hello"} {
		require.NoError(t, s.AddText(text))
		env.clock.Advance(time.Second)
	}

	assert.Equal(t, []string{"hello", "world"}, contents(s.Items()))
}

func TestAdd_DuplicateOfPinned(t *testing.T) {
	s, env := newLoadedStore(t)

	require.NoError(t, s.AddText("keep"))
	require.NoError(t, s.TogglePin(s.Items()[0].ID))
	env.clock.Advance(time.Second)

	// 与最新一条（置顶）完全相同时忽略
	require.NoError(t, s.AddText("keep"))
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.AddText("top"))
	require.NoError(t, s.TogglePin(findByContent(t, s, "top").ID))
	env.clock.Advance(time.Second)

	// 置顶项不参与去重，新记录进入未置顶分区
	require.NoError(t, s.AddText("keep"))
	items := s.Items()
	assert.Equal(t, []string{"top", "keep", "keep"}, contents(items))
	assert.True(t, items[1].IsPinned)
	assert.False(t, items[2].IsPinned)
}

func TestAdd_FileDuplicateByPath(t *testing.T) {
	s, env := newLoadedStore(t)

	require.NoError(t, s.AddFile("/tmp/report.pdf"))
	env.clock.Advance(time.Second)
	require.NoError(t, s.AddText("between"))
	env.clock.Advance(time.Second)
	require.NoError(t, s.AddFile("/tmp/../tmp/report.pdf"))

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, model.KindFile, items[0].Kind)
	assert.Equal(t, "/tmp/report.pdf", items[0].FileRef)
	assert.Equal(t, "report.pdf", items[0].Content)
}

func TestAdd_Validation(t *testing.T) {
	s, _ := newLoadedStore(t)

	assert.ErrorIs(t, s.AddText("   \n"), ErrEmptyContent)
	assert.ErrorIs(t, s.AddFile(""), ErrEmptyContent)
	assert.ErrorIs(t, s.AddImage(nil, "img"), ErrEmptyContent)
	assert.Error(t, s.Add(model.Entry{Kind: model.KindText, Content: "no id"}))

	e := model.NewTextEntry("x", time.Now())
	require.NoError(t, s.Add(e))
	dup := model.NewTextEntry("y", time.Now())
	dup.ID = e.ID
	assert.ErrorIs(t, s.Add(dup), ErrDuplicateID)
	assert.Equal(t, 1, s.Len())
}

func TestCountLimit_EvictsOldestUnpinned(t *testing.T) {
	env := newTestEnv(t)
	cfg := defaultStoreConfig()
	cfg.MaxItems = 2
	s := env.load(t, cfg)

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddText(text))
		env.clock.Advance(time.Second)
	}

	assert.Equal(t, []string{"c", "b"}, contents(s.Items()))
}

func TestCountLimit_NeverRemovesPinned(t *testing.T) {
	env := newTestEnv(t)
	cfg := defaultStoreConfig()
	cfg.MaxItems = 2
	s := env.load(t, cfg)

	require.NoError(t, s.AddText("a"))
	require.NoError(t, s.TogglePin(s.Items()[0].ID))
	require.NoError(t, s.AddText("b"))
	require.NoError(t, s.TogglePin(findByContent(t, s, "b").ID))
	require.NoError(t, s.AddText("c"))

	assert.Equal(t, []string{"b", "a"}, contents(s.Items()))

	// 只剩置顶项时即使超出上限也不再删除
	cfg.MaxItems = 1
	s.SetConfig(cfg)
	items := s.Items()
	assert.Equal(t, []string{"b", "a"}, contents(items))
	for _, e := range items {
		assert.True(t, e.IsPinned)
	}
}

func TestSetConfig_AppliesLimits(t *testing.T) {
	s, env := newLoadedStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddText(fmt.Sprintf("item-%d", i)))
		env.clock.Advance(time.Second)
	}

	cfg := s.Config()
	cfg.MaxItems = 3
	s.SetConfig(cfg)

	assert.Equal(t, []string{"item-4", "item-3", "item-2"}, contents(s.Items()))
	assert.Equal(t, 3, s.Config().MaxItems)
}

func TestTogglePin_IsItsOwnInverse(t *testing.T) {
	s, env := newLoadedStore(t)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddText(text))
		env.clock.Advance(time.Second)
	}
	before := s.Items()
	id := findByContent(t, s, "c").ID

	require.NoError(t, s.TogglePin(id))
	require.NoError(t, s.TogglePin(id))

	assert.Equal(t, before, s.Items())
	assert.ErrorIs(t, s.TogglePin("missing"), ErrNotFound)
}

func TestTogglePin_MovesToFront(t *testing.T) {
	s, env := newLoadedStore(t)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddText(text))
		env.clock.Advance(time.Second)
	}

	require.NoError(t, s.TogglePin(findByContent(t, s, "a").ID))
	require.NoError(t, s.TogglePin(findByContent(t, s, "b").ID))
	assert.Equal(t, []string{"b", "a", "c"}, contents(s.Items()))

	// 取消置顶后放到未置顶分区最前面
	require.NoError(t, s.TogglePin(findByContent(t, s, "b").ID))
	assert.Equal(t, []string{"a", "b", "c"}, contents(s.Items()))
}

func TestSelect_MovesToTopAndWritesClipboard(t *testing.T) {
	s, env := newLoadedStore(t)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddText(text))
		env.clock.Advance(time.Second)
	}
	a := findByContent(t, s, "a")

	env.clock.Advance(time.Minute)
	require.NoError(t, s.Select(a.ID))

	assert.Equal(t, []string{"a", "c", "b"}, contents(s.Items()))
	got, _ := s.Get(a.ID)
	assert.Equal(t, env.clock.Now(), got.Timestamp)
	assert.Equal(t, a.CreatedAt, got.CreatedAt)

	written, image := env.clipboard.last()
	assert.Equal(t, a.ID, written.ID)
	assert.Nil(t, image)
}

func TestSelect_PinnedKeepsPosition(t *testing.T) {
	s, env := newLoadedStore(t)
	for _, text := range []string{"a", "b"} {
		require.NoError(t, s.AddText(text))
		env.clock.Advance(time.Second)
	}
	require.NoError(t, s.TogglePin(findByContent(t, s, "a").ID))
	require.NoError(t, s.TogglePin(findByContent(t, s, "b").ID))
	before := s.Items()

	require.NoError(t, s.Select(findByContent(t, s, "a").ID))

	assert.Equal(t, before, s.Items())
	written, _ := env.clipboard.last()
	assert.Equal(t, "a", written.Content)
}

func TestSelect_ImageAndMissing(t *testing.T) {
	s, env := newLoadedStore(t)
	data := randomBytes(t, 512)
	require.NoError(t, s.AddImage(data, "截图"))

	require.NoError(t, s.Select(s.Items()[0].ID))
	_, image := env.clipboard.last()
	assert.Equal(t, data, image)

	assert.ErrorIs(t, s.Select("missing"), ErrNotFound)
}

func TestSelectThenDelete(t *testing.T) {
	s, _ := newLoadedStore(t)
	require.NoError(t, s.AddText("a"))
	id := s.Items()[0].ID

	require.NoError(t, s.Select(id))
	require.NoError(t, s.Delete(id))

	assert.Equal(t, 0, s.Len())
	assert.ErrorIs(t, s.Delete(id), ErrNotFound)
}

func TestDelete_RemovesImageBlob(t *testing.T) {
	s, env := newLoadedStore(t)
	require.NoError(t, s.AddImage(randomBytes(t, 256), ""))
	e := s.Items()[0]

	_, err := env.storage.ImageSize(e.ImageRef)
	require.NoError(t, err)

	require.NoError(t, s.Delete(e.ID))
	_, err = env.storage.ImageSize(e.ImageRef)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClear(t *testing.T) {
	s, env := newLoadedStore(t)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddText(text))
		env.clock.Advance(time.Second)
	}
	require.NoError(t, s.TogglePin(findByContent(t, s, "a").ID))

	s.Clear(false)
	assert.Equal(t, []string{"a"}, contents(s.Items()))

	s.Clear(true)
	assert.Equal(t, 0, s.Len())
}

func TestSubscribe_LatestSnapshotWins(t *testing.T) {
	s, _ := newLoadedStore(t)
	ch, cancel := s.Subscribe()

	require.NoError(t, s.AddText("a"))
	snap := <-ch
	assert.Equal(t, []string{"a"}, contents(snap))

	// 不读取时只保留最新快照
	require.NoError(t, s.AddText("b"))
	require.NoError(t, s.AddText("c"))
	snap = <-ch
	assert.Equal(t, []string{"c", "b", "a"}, contents(snap))
	select {
	case extra := <-ch:
		t.Fatalf("unexpected snapshot %v", contents(extra))
	default:
	}

	cancel()
	cancel()
	require.NoError(t, s.AddText("d"))
	select {
	case <-ch:
		t.Fatal("received snapshot after cancel")
	default:
	}
}

func TestSearch(t *testing.T) {
	s, env := newLoadedStore(t)
	require.NoError(t, s.AddText("Hello World"))
	env.clock.Advance(time.Second)
	require.NoError(t, s.AddText("goodbye"))
	env.clock.Advance(time.Second)
	require.NoError(t, s.AddFile("/Users/me/hello.txt"))

	got := s.Search("HELLO")
	assert.Len(t, got, 2)
	assert.Len(t, s.Search(""), 3)
	assert.Empty(t, s.Search("nothing"))
}

func TestSearcher(t *testing.T) {
	s, _ := newLoadedStore(t)
	require.NoError(t, s.AddText("alpha"))
	require.NoError(t, s.AddText("beta"))

	q := NewSearcher(s)
	got, err := q.Search(context.Background(), "alp")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, contents(got))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Search(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearcher_StaleRequestIsSuperseded(t *testing.T) {
	s, _ := newLoadedStore(t)
	q := NewSearcher(s)

	q.mu.Lock()
	q.gen = 5
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.staleErr(ctx, 4), ErrSuperseded)
	assert.ErrorIs(t, q.staleErr(ctx, 5), context.Canceled)
}

func TestSearcher_ConcurrentRequests(t *testing.T) {
	s, _ := newLoadedStore(t)
	for i := 0; i < 300; i++ {
		require.NoError(t, s.AddText(fmt.Sprintf("entry %d", i)))
	}
	q := NewSearcher(s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Search(context.Background(), "entry")
			if err != nil {
				assert.ErrorIs(t, err, ErrSuperseded)
			}
		}()
	}
	wg.Wait()

	got, err := q.Search(context.Background(), "entry 29")
	require.NoError(t, err)
	assert.Len(t, got, 11)
}

func TestConcurrentMutations(t *testing.T) {
	s, _ := newLoadedStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AddText(fmt.Sprintf("text-%d", i)))
			_ = s.Items()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	require.NoError(t, s.Save())
}

func TestClose_FlushesAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	s := env.load(t, defaultStoreConfig())
	require.NoError(t, s.AddText("persist me"))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := env.storage.ReadHistory()
	assert.NoError(t, err)
}

func TestAdd_AfterClose(t *testing.T) {
	s, _ := newLoadedStore(t)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.AddText("too late"), ErrClosed)
	assert.ErrorIs(t, s.AddImage([]byte("png"), "too late"), ErrClosed)
	_, err := s.Merge([]model.Entry{model.NewTextEntry("too late", time.Now())}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, s.Len())
}

func TestSave_BeforeLoad(t *testing.T) {
	env := newTestEnv(t)
	s := env.open(t, defaultStoreConfig())

	assert.True(t, errors.Is(s.Save(), ErrNotLoaded))
	_, err := s.Merge(nil, nil)
	assert.ErrorIs(t, err, ErrNotLoaded)
}
