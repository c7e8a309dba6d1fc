package driver

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// 需要真实数据库：CLIPVAULT_TEST_MYSQL_DSN=user:pass@tcp(127.0.0.1:3306)/clipvault_test?parseTime=True
func newTestMySQLStorage(t *testing.T) *MySQLStorage {
	t.Helper()
	dsn := os.Getenv("CLIPVAULT_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("CLIPVAULT_TEST_MYSQL_DSN not set")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable(&historySnapshot{}, &imageBlob{}, &legacyItem{}))

	s, err := newGormStorage(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMySQLStorage_History(t *testing.T) {
	s := newTestMySQLStorage(t)

	_, err := s.ReadHistory()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.WriteHistory([]byte("v1")))
	require.NoError(t, s.WriteHistory([]byte("v2")))

	data, err := s.ReadHistory()
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestMySQLStorage_Images(t *testing.T) {
	s := newTestMySQLStorage(t)

	require.NoError(t, s.WriteImage("a.img", []byte("aaaa")))
	size, err := s.ImageSize("a.img")
	require.NoError(t, err)
	assert.EqualValues(t, 4, size)

	names, err := s.ListImages()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.img"}, names)

	require.NoError(t, s.DeleteImage("a.img"))
	_, err = s.ReadImage("a.img")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMySQLStorage_Legacy(t *testing.T) {
	s := newTestMySQLStorage(t)

	_, err := s.ReadLegacyHistory()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.db.AutoMigrate(&legacyItem{}))
	require.NoError(t, s.db.Create(&legacyItem{ID: "1", Content: "old"}).Error)

	data, err := s.ReadLegacyHistory()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content":"old"`)

	require.NoError(t, s.RemoveLegacyHistory())
	_, err = s.ReadLegacyHistory()
	assert.ErrorIs(t, err, ErrNotFound)
}
