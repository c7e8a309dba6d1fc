package backup

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"clipvault/config"
	"clipvault/crypto"
	"clipvault/history"
	"clipvault/model"
	"clipvault/storage/driver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *history.Store
	engine  *crypto.Engine
	service *Service
}

func newFixture(t *testing.T, password string) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := driver.NewFileStorage(&config.StorageConfig{
		Type:     config.StorageTypeFile,
		DataPath: filepath.Join(dir, "data"),
	})
	require.NoError(t, err)

	engine, err := crypto.NewEngine(config.NewKeystore(filepath.Join(dir, "keystore.json")))
	require.NoError(t, err)
	if password != "" {
		require.NoError(t, engine.SetPassword(password))
	}

	store := history.New(history.Options{
		Storage: st,
		Cipher:  engine,
		Config:  config.Default().Store,
	})
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Load())

	return &fixture{store: store, engine: engine, service: NewService(store, engine)}
}

// seed 两条未置顶文本、一条置顶文本和一张图片
func (f *fixture) seed(t *testing.T) []byte {
	t.Helper()
	image := []byte("\x89PNG fake image bytes")
	require.NoError(t, f.store.AddText("alpha"))
	require.NoError(t, f.store.AddText("beta"))
	require.NoError(t, f.store.AddText("gamma"))
	require.NoError(t, f.store.AddImage(image, "screenshot"))
	for _, e := range f.store.Items() {
		if e.Content == "gamma" {
			require.NoError(t, f.store.TogglePin(e.ID))
		}
	}
	return image
}

type summary struct {
	ID       string
	Content  string
	IsPinned bool
}

func summarize(entries []model.Entry) []summary {
	out := make([]summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summary{ID: e.ID, Content: e.Content, IsPinned: e.IsPinned})
	}
	return out
}

func imageEntry(t *testing.T, s *history.Store) model.Entry {
	t.Helper()
	for _, e := range s.Items() {
		if e.Kind == model.KindImage {
			return e
		}
	}
	t.Fatal("no image entry")
	return model.Entry{}
}

func TestExportClearImport(t *testing.T) {
	f := newFixture(t, "correct horse")
	image := f.seed(t)
	before := f.store.Items()

	data, err := f.service.Export(context.Background())
	require.NoError(t, err)

	f.store.Clear(true)
	require.Equal(t, 0, f.store.Len())

	require.True(t, f.service.Import(context.Background(), data, "correct horse"))

	after := f.store.Items()
	assert.ElementsMatch(t, summarize(before), summarize(after))
	assert.True(t, after[0].IsPinned)
	assert.Equal(t, "gamma", after[0].Content)

	restored, err := f.store.ImageData(imageEntry(t, f.store).ImageRef)
	require.NoError(t, err)
	assert.Equal(t, image, restored)
}

func TestImport_WrongPasswordLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t, "correct horse")
	f.seed(t)

	data, err := f.service.Export(context.Background())
	require.NoError(t, err)
	f.store.Clear(false)
	before := f.store.Items()

	assert.False(t, f.service.Import(context.Background(), data, "battery staple"))
	assert.False(t, f.service.Import(context.Background(), data, ""))
	assert.Equal(t, before, f.store.Items())

	_, err = f.service.Restore(context.Background(), data, "battery staple")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestImport_IntoStoreWithDifferentPassword(t *testing.T) {
	src := newFixture(t, "old password")
	image := src.seed(t)
	data, err := src.service.Export(context.Background())
	require.NoError(t, err)

	dst := newFixture(t, "new password")
	require.NoError(t, dst.store.AddText("local"))

	n, err := dst.service.Restore(context.Background(), data, "old password")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 5, dst.store.Len())

	// 图片已用当前会话密钥重新加密
	restored, err := dst.store.ImageData(imageEntry(t, dst.store).ImageRef)
	require.NoError(t, err)
	assert.Equal(t, image, restored)

	// 重复导入不会新增记录
	n, err = dst.service.Restore(context.Background(), data, "old password")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExport_Unencrypted(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t)

	data, err := f.service.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(data[0:4]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(data[4:8]))

	f.store.Clear(true)
	assert.True(t, f.service.Import(context.Background(), data, ""))
	assert.Equal(t, 4, f.store.Len())
}

func TestExport_LockedFails(t *testing.T) {
	f := newFixture(t, "pw")
	f.seed(t)
	f.engine.Lock()

	_, err := f.service.Export(context.Background())
	assert.ErrorIs(t, err, ErrLocked)
}

func TestImport_Truncated(t *testing.T) {
	f := newFixture(t, "")

	for _, data := range [][]byte{
		nil,
		{0, 0},
		{0, 0, 0, 8, 1, 2},
		{0xff, 0xff, 0xff, 0xff, 0},
	} {
		_, err := f.service.Restore(context.Background(), data, "")
		assert.ErrorIs(t, err, ErrTruncated)
		assert.False(t, f.service.Import(context.Background(), data, ""))
	}
}

func TestImport_GarbagePayload(t *testing.T) {
	f := newFixture(t, "")
	data := writeHeader(nil, nil, []byte("not a package"))
	assert.False(t, f.service.Import(context.Background(), data, ""))
}

func TestImport_LegacyEntryArray(t *testing.T) {
	f := newFixture(t, "")
	legacy := []byte(`[{"id":"legacy-1","type":0,"content":"from old version","timestamp":"2025-01-01T12:00:00Z","isFavorite":true}]`)

	require.True(t, f.service.Import(context.Background(), writeHeader(nil, nil, legacy), ""))

	items := f.store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "legacy-1", items[0].ID)
	assert.True(t, items[0].IsPinned)
}

func TestExportImportFile(t *testing.T) {
	f := newFixture(t, "pw")
	f.seed(t)
	path := filepath.Join(t.TempDir(), "backup.clipvault")

	require.NoError(t, f.service.ExportFile(context.Background(), path))
	f.store.Clear(true)

	n, err := f.service.ImportFile(context.Background(), path, "pw")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = f.service.ImportFile(context.Background(), filepath.Join(t.TempDir(), "missing"), "pw")
	assert.Error(t, err)
}

func TestExport_CanceledContext(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := f.service.Export(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHeaderRoundTrip(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")
	verifier := []byte("verifier")
	payload := []byte("payload")

	s, v, p, err := parseHeader(writeHeader(salt, verifier, payload))
	require.NoError(t, err)
	assert.Equal(t, salt, s)
	assert.Equal(t, verifier, v)
	assert.Equal(t, payload, p)
}

func TestRestore_ChecksVerifierBeforePayload(t *testing.T) {
	f := newFixture(t, "correct horse")
	f.seed(t)
	data, err := f.service.Export(context.Background())
	require.NoError(t, err)
	f.store.Clear(true)

	salt, verifier, payload, err := parseHeader(data)
	require.NoError(t, err)
	tampered := append([]byte(nil), verifier...)
	tampered[len(tampered)-1] ^= 0xff

	// 负载本身可以用该密码解密，但校验密文不匹配
	_, err = f.service.Restore(context.Background(), writeHeader(salt, tampered, payload), "correct horse")
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.Equal(t, 0, f.store.Len())

	n, err := f.service.Restore(context.Background(), data, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
