package driver

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clipvault/config"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// historySnapshot 整个历史记录作为一行不透明数据保存
type historySnapshot struct {
	ID        uint   `gorm:"primaryKey"`
	Data      []byte `gorm:"type:longblob"`
	UpdatedAt time.Time
}

// imageBlob 一张图片一行
type imageBlob struct {
	Name      string `gorm:"primaryKey;size:64"`
	Data      []byte `gorm:"type:longblob"`
	Size      int64
	CreatedAt time.Time
}

// legacyItem 旧版按条目保存的未加密表
type legacyItem struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	Type       int       `json:"type"`
	Content    string    `json:"content"`
	ImagePath  string    `json:"imagePath"`
	Timestamp  time.Time `json:"timestamp"`
	IsFavorite bool      `json:"isFavorite"`
}

func (legacyItem) TableName() string { return "clipboard_items" }

const snapshotRowID = 1

// MySQLStorage MySQL存储实现（使用GORM）
type MySQLStorage struct {
	db *gorm.DB
}

// NewMySQLStorage 创建MySQL存储实例
func NewMySQLStorage(cfg *config.StorageConfig) (*MySQLStorage, error) {
	// 构建DSN
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.MySQL.User,
		cfg.MySQL.Password,
		cfg.MySQL.Host,
		cfg.MySQL.Port,
		cfg.MySQL.Database,
	)

	// 连接数据库
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("无法连接到MySQL数据库: %w", err)
	}
	return newGormStorage(db)
}

func newGormStorage(db *gorm.DB) (*MySQLStorage, error) {
	// 自动迁移表结构
	if err := db.AutoMigrate(&historySnapshot{}, &imageBlob{}); err != nil {
		return nil, fmt.Errorf("迁移表结构失败: %w", err)
	}
	return &MySQLStorage{db: db}, nil
}

// ReadHistory 读取历史记录
func (s *MySQLStorage) ReadHistory() ([]byte, error) {
	var row historySnapshot
	err := s.db.First(&row, snapshotRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

// WriteHistory 单行 upsert，事务保证原子性
func (s *MySQLStorage) WriteHistory(data []byte) error {
	row := historySnapshot{ID: snapshotRowID, Data: data, UpdatedAt: time.Now()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
}

// ReadLegacyHistory 把旧版 clipboard_items 表导出为旧版 JSON 数组
func (s *MySQLStorage) ReadLegacyHistory() ([]byte, error) {
	if !s.db.Migrator().HasTable(&legacyItem{}) {
		return nil, ErrNotFound
	}
	var items []legacyItem
	if err := s.db.Order("is_favorite DESC, timestamp DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return json.Marshal(items)
}

// RemoveLegacyHistory 删除旧版表
func (s *MySQLStorage) RemoveLegacyHistory() error {
	if !s.db.Migrator().HasTable(&legacyItem{}) {
		return nil
	}
	return s.db.Migrator().DropTable(&legacyItem{})
}

// WriteImage 写入图片数据
func (s *MySQLStorage) WriteImage(name string, data []byte) error {
	if !ValidImageName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	row := imageBlob{Name: name, Data: data, Size: int64(len(data)), CreatedAt: time.Now()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "size"}),
	}).Create(&row).Error
}

// ReadImage 读取图片数据
func (s *MySQLStorage) ReadImage(name string) ([]byte, error) {
	var row imageBlob
	err := s.db.First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

// DeleteImage 删除图片数据
func (s *MySQLStorage) DeleteImage(name string) error {
	return s.db.Delete(&imageBlob{}, "name = ?", name).Error
}

// ListImages 列出所有图片数据名
func (s *MySQLStorage) ListImages() ([]string, error) {
	var names []string
	if err := s.db.Model(&imageBlob{}).Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}

// ImageSize 返回图片数据大小
func (s *MySQLStorage) ImageSize(name string) (int64, error) {
	var row imageBlob
	err := s.db.Select("name", "size").First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return row.Size, nil
}

// Close 关闭存储
func (s *MySQLStorage) Close() error {
	// 获取底层sql.DB并关闭
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
