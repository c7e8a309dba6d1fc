package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"clipvault/model"

	"github.com/caarlos0/env/v11"
	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"
)

// StorageType 存储类型
type StorageType string

const (
	StorageTypeFile  StorageType = "file"
	StorageTypeMySQL StorageType = "mysql"
)

const (
	appDirName       = "clipvault"
	legacyAppDirName = "clipboard-manager" // 旧版本（未加密 JSON）的数据目录

	DefaultMaxItems        = 100
	DefaultMaxStorageBytes = 500 * 1024 * 1024
)

// StorageConfig 存储配置
type StorageConfig struct {
	Type       StorageType `json:"type" env:"CLIPVAULT_STORAGE_TYPE"`
	DataPath   string      `json:"dataPath" env:"CLIPVAULT_DATA_PATH"`
	LegacyPath string      `json:"legacyPath,omitempty" env:"CLIPVAULT_LEGACY_PATH"`
	MySQL      MySQLConfig `json:"mySQL" envPrefix:"CLIPVAULT_MYSQL_"`
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host     string `json:"host" env:"HOST"`
	Port     int    `json:"port" env:"PORT"`
	User     string `json:"user" env:"USER"`
	Password string `json:"password" env:"PASSWORD"`
	Database string `json:"database" env:"DATABASE"`
}

// StoreConfig 历史记录策略配置
//
// 保留天数：-1 表示永久保留，0 表示不保留（下一次清理时全部删除未置顶项）。
// MaxStorageBytes <= 0 表示不限制总大小。
type StoreConfig struct {
	MaxItems           int   `json:"maxItems" env:"CLIPVAULT_MAX_ITEMS"`
	TextRetentionDays  int   `json:"textRetentionDays" env:"CLIPVAULT_TEXT_RETENTION_DAYS"`
	ImageRetentionDays int   `json:"imageRetentionDays" env:"CLIPVAULT_IMAGE_RETENTION_DAYS"`
	FileRetentionDays  int   `json:"fileRetentionDays" env:"CLIPVAULT_FILE_RETENTION_DAYS"`
	MaxStorageBytes    int64 `json:"maxStorageBytes" env:"CLIPVAULT_MAX_STORAGE_BYTES"`
	Compression        bool  `json:"compression" env:"CLIPVAULT_COMPRESSION"`
}

// AppConfig 应用配置
type AppConfig struct {
	Storage  StorageConfig `json:"storage"`
	Store    StoreConfig   `json:"store"`
	LogLevel string        `json:"logLevel" env:"CLIPVAULT_LOG_LEVEL"`
}

// Dir 返回配置目录，无法获取用户目录时使用当前目录
func Dir() string {
	appDataDir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(appDataDir, appDirName)
}

// Path 配置文件路径
func Path() string {
	return filepath.Join(Dir(), "config.json")
}

// KeystorePath 凭据文件路径
func KeystorePath() string {
	return filepath.Join(Dir(), "keystore.json")
}

// LoadFrom 从指定路径加载配置，文件不存在时使用默认配置；环境变量优先
func LoadFrom(path string) (*AppConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("读取配置失败: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// SaveTo 保存配置到指定路径
func SaveTo(path string, cfg *AppConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		logrus.Errorf("配置序列化为JSON失败: %v", err)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

// Default 默认配置
func Default() *AppConfig {
	appDataDir, _ := os.UserConfigDir()

	return &AppConfig{
		Storage: StorageConfig{
			Type:       StorageTypeFile,
			DataPath:   filepath.Join(appDataDir, appDirName, "history"),
			LegacyPath: filepath.Join(appDataDir, legacyAppDirName, "history"),
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "clipboard",
			},
		},
		Store: StoreConfig{
			MaxItems:           DefaultMaxItems,
			TextRetentionDays:  -1,
			ImageRetentionDays: -1,
			FileRetentionDays:  -1,
			MaxStorageBytes:    DefaultMaxStorageBytes,
			Compression:        true,
		},
		LogLevel: "info",
	}
}

func (c *AppConfig) normalize() {
	if c.Store.MaxItems <= 0 {
		c.Store.MaxItems = DefaultMaxItems
	}
	for _, days := range []*int{&c.Store.TextRetentionDays, &c.Store.ImageRetentionDays, &c.Store.FileRetentionDays} {
		if *days < -1 {
			*days = -1
		}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageTypeFile
	}
	if c.Storage.DataPath == "" {
		c.Storage.DataPath = Default().Storage.DataPath
	}
}

// RetentionDays 返回指定类型的保留天数
func (c StoreConfig) RetentionDays(kind model.Kind) int {
	switch kind {
	case model.KindImage:
		return c.ImageRetentionDays
	case model.KindFile:
		return c.FileRetentionDays
	default:
		return c.TextRetentionDays
	}
}
