package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"clipvault/model"
)

// Package 备份包：记录列表以及图片名到原始图片数据的映射
type Package struct {
	Entries []model.Entry
	Images  map[string][]byte
}

type packageEnvelope struct {
	Version int               `json:"version"`
	Entries *[]record         `json:"entries"`
	Images  map[string][]byte `json:"images,omitempty"`
}

// EncodePackage 序列化备份包
func EncodePackage(p *Package, compress bool) ([]byte, error) {
	records := make([]record, 0, len(p.Entries))
	for _, e := range p.Entries {
		records = append(records, toRecord(e))
	}
	data, err := json.Marshal(packageEnvelope{Version: FormatVersion, Entries: &records, Images: p.Images})
	if err != nil {
		return nil, fmt.Errorf("序列化备份包失败: %w", err)
	}
	if !compress {
		return data, nil
	}
	return Compress(data)
}

// DecodePackage 反序列化备份包，先按新格式解析，失败再按旧版纯记录数组解析
func DecodePackage(data []byte) (*Package, error) {
	raw := bytes.TrimSpace(Decompress(data))

	var env packageEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Entries != nil {
		entries, _, err := fromRecords(*env.Entries)
		if err != nil {
			return nil, err
		}
		images := env.Images
		if images == nil {
			images = map[string][]byte{}
		}
		return &Package{Entries: entries, Images: images}, nil
	}

	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	entries, _, err := fromRecords(records)
	if err != nil {
		return nil, err
	}
	return &Package{Entries: entries, Images: map[string][]byte{}}, nil
}
