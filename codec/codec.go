// Package codec 负责历史记录与备份包的序列化、压缩以及旧格式兼容。
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"clipvault/model"

	"github.com/klauspost/compress/zstd"
)

// FormatVersion 当前写入的格式版本
const FormatVersion = 2

// ErrMalformed 数据结构无法识别
var ErrMalformed = errors.New("历史数据格式无效")

// zstd 帧头即为“已压缩”标记
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() {
	zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if zstdErr != nil {
		return
	}
	zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<30))
}

type envelope struct {
	Version int       `json:"version"`
	Entries *[]record `json:"entries"`
}

// Encode 序列化记录列表，compress 为真时再做 zstd 压缩
func Encode(entries []model.Entry, compress bool) ([]byte, error) {
	records := make([]record, 0, len(entries))
	for _, e := range entries {
		records = append(records, toRecord(e))
	}
	data, err := json.Marshal(envelope{Version: FormatVersion, Entries: &records})
	if err != nil {
		return nil, fmt.Errorf("序列化历史记录失败: %w", err)
	}
	if !compress {
		return data, nil
	}
	return Compress(data)
}

// Decode 反序列化记录列表
//
// 带压缩标记时先尝试解压，失败则按未压缩数据处理，不依赖当前的压缩开关。
// 同时接受新格式（对象）和旧格式（纯数组）。空列表返回非 nil 的空切片。
func Decode(data []byte) ([]model.Entry, error) {
	entries, _, err := decode(data)
	return entries, err
}

// DecodeLegacy 与 Decode 相同，另外返回旧版图片记录的图片文件路径（按记录 id）
//
// 旧版图片记录没有 imageRef，图片保存在 imagePath 指向的文件中，迁移时需要读取。
func DecodeLegacy(data []byte) ([]model.Entry, map[string]string, error) {
	return decode(data)
}

func decode(data []byte) ([]model.Entry, map[string]string, error) {
	raw := Decompress(data)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil, ErrMalformed
	}

	var records []record
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Entries == nil {
			return nil, nil, fmt.Errorf("%w: 缺少 entries 字段", ErrMalformed)
		}
		records = *env.Entries
	default:
		return nil, nil, ErrMalformed
	}

	return fromRecords(records)
}

// Compress zstd 压缩
func Compress(data []byte) ([]byte, error) {
	zstdOnce.Do(initZstd)
	if zstdErr != nil {
		return nil, fmt.Errorf("初始化压缩器失败: %w", zstdErr)
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress 有压缩标记且解压成功时返回解压结果，否则原样返回
func Decompress(data []byte) []byte {
	if !IsCompressed(data) {
		return data
	}
	zstdOnce.Do(initZstd)
	if zstdErr != nil {
		return data
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return data
	}
	return out
}

// IsCompressed 是否带有压缩标记
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

func fromRecords(records []record) ([]model.Entry, map[string]string, error) {
	entries := make([]model.Entry, 0, len(records))
	imagePaths := make(map[string]string)
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.ID == "" {
			return nil, nil, fmt.Errorf("%w: 第 %d 条记录缺少 id", ErrMalformed, i)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, nil, fmt.Errorf("%w: 重复的 id %s", ErrMalformed, r.ID)
		}
		seen[r.ID] = struct{}{}
		e := r.toEntry()
		if e.Kind == model.KindImage && e.ImageRef == "" && r.ImagePath != "" {
			imagePaths[e.ID] = r.ImagePath
		}
		entries = append(entries, e)
	}
	return entries, imagePaths, nil
}

// record 存储格式中的一条记录
//
// type/isFavorite/imagePath 为旧版 JSON 存储的字段名，只读不写。
type record struct {
	ID         string     `json:"id"`
	Kind       *kindTag   `json:"kind,omitempty"`
	Type       *kindTag   `json:"type,omitempty"`
	Content    string     `json:"content"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	IsPinned   bool       `json:"isPinned"`
	IsFavorite bool       `json:"isFavorite,omitempty"`
	ImageRef   string     `json:"imageRef,omitempty"`
	ImagePath  string     `json:"imagePath,omitempty"`
	FileRef    string     `json:"fileRef,omitempty"`
}

func toRecord(e model.Entry) record {
	kind := kindTag(e.Kind)
	created := e.CreatedAt
	return record{
		ID:        e.ID,
		Kind:      &kind,
		Content:   e.Content,
		CreatedAt: &created,
		Timestamp: e.Timestamp,
		IsPinned:  e.IsPinned,
		ImageRef:  e.ImageRef,
		FileRef:   e.FileRef,
	}
}

func (r record) toEntry() model.Entry {
	kind := model.KindText
	switch {
	case r.Kind != nil:
		kind = model.Kind(*r.Kind)
	case r.Type != nil:
		kind = model.Kind(*r.Type)
	}

	e := model.Entry{
		ID:        r.ID,
		Kind:      kind,
		Content:   r.Content,
		Timestamp: r.Timestamp,
		IsPinned:  r.IsPinned || r.IsFavorite,
		ImageRef:  r.ImageRef,
		FileRef:   r.FileRef,
	}
	if r.CreatedAt != nil {
		e.CreatedAt = *r.CreatedAt
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.Timestamp
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = e.CreatedAt
	}
	// 旧版文件记录只有 content 保存路径
	if e.Kind == model.KindFile && e.FileRef == "" {
		e.FileRef = e.Content
	}
	return e
}

// kindTag 写为字符串标签，读取时兼容旧版整数
type kindTag model.Kind

func (k kindTag) MarshalJSON() ([]byte, error) {
	return json.Marshal(model.Kind(k).String())
}

func (k *kindTag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = kindTag(model.ParseKind(s))
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("无法识别的类型标签: %s", data)
	}
	switch model.Kind(n) {
	case model.KindImage, model.KindFile:
		*k = kindTag(n)
	default:
		*k = kindTag(model.KindText)
	}
	return nil
}
