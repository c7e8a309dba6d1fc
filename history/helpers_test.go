package history

import (
	"crypto/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clipvault/config"
	"clipvault/crypto"
	"clipvault/model"
	"clipvault/storage/driver"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeClipboard struct {
	mu      sync.Mutex
	entries []model.Entry
	images  [][]byte
}

func (f *fakeClipboard) SetContent(e model.Entry, image []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	f.images = append(f.images, image)
	return nil
}

func (f *fakeClipboard) last() (model.Entry, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.entries)
	return f.entries[n-1], f.images[n-1]
}

type testEnv struct {
	dir       string
	storage   *driver.FileStorage
	keystore  *config.Keystore
	engine    *crypto.Engine
	clock     *testClock
	clipboard *fakeClipboard
	alerts    chan error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := driver.NewFileStorage(&config.StorageConfig{
		Type:       config.StorageTypeFile,
		DataPath:   filepath.Join(dir, "data"),
		LegacyPath: filepath.Join(dir, "legacy"),
	})
	require.NoError(t, err)

	ks := config.NewKeystore(filepath.Join(dir, "keystore.json"))
	engine, err := crypto.NewEngine(ks)
	require.NoError(t, err)

	return &testEnv{
		dir:       dir,
		storage:   st,
		keystore:  ks,
		engine:    engine,
		clock:     newTestClock(),
		clipboard: &fakeClipboard{},
		alerts:    make(chan error, 16),
	}
}

func defaultStoreConfig() config.StoreConfig {
	return config.StoreConfig{
		MaxItems:           100,
		TextRetentionDays:  -1,
		ImageRetentionDays: -1,
		FileRetentionDays:  -1,
		Compression:        true,
	}
}

// open 创建新的 Store（不加载）
func (env *testEnv) open(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	s := New(Options{
		Storage:   env.storage,
		Cipher:    env.engine,
		Config:    cfg,
		Clipboard: env.clipboard,
		OnAlert:   func(err error) { env.alerts <- err },
		Now:       env.clock.Now,
	})
	t.Cleanup(func() { s.Close() })
	return s
}

// load 创建并加载 Store
func (env *testEnv) load(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	s := env.open(t, cfg)
	require.NoError(t, s.Load())
	return s
}

func newLoadedStore(t *testing.T) (*Store, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return env.load(t, defaultStoreConfig()), env
}

func contents(entries []model.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Content)
	}
	return out
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func findByContent(t *testing.T, s *Store, content string) model.Entry {
	t.Helper()
	for _, e := range s.Items() {
		if e.Content == content {
			return e
		}
	}
	t.Fatalf("entry %q not found", content)
	return model.Entry{}
}
