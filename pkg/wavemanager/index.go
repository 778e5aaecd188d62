package wavemanager

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"slobstore/pkg/meta"
	"slobstore/pkg/slob"
	"slobstore/pkg/types"
	"slobstore/pkg/wave"
)

// 索引字段
const (
	FieldParticipant = "participant"
	FieldTitle       = "title"
	FieldWord        = "word"
)

const (
	// MaxWords 限制每个 wavelet 的词条数
	MaxWords = 256

	// maxValueBytes 与 slob_index_entries.value 的 varchar(255) 一致
	maxValueBytes = 255
)

// WaveIndex 维护 wavelet 的派生查询索引。
// Update 在 pre-commit 阶段把索引写入当前事务，与数据一起提交。
type WaveIndex struct {
	store *meta.Store
}

func NewWaveIndex(store *meta.Store) *WaveIndex {
	return &WaveIndex{store: store}
}

// Update 用 w 的索引条目替换 id 在事务中的全部索引
func (x *WaveIndex) Update(tx slob.Transaction, id types.SlobID, w *wave.Wavelet) error {
	return tx.PutIndex(Entries(w)...)
}

// Find 返回 field = value 的 wavelet ID，按 ID 排序
func (x *WaveIndex) Find(ctx context.Context, field, value string, limit int) ([]types.SlobID, error) {
	records, err := x.store.FindByIndex(ctx, field, normalize(field, value), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]types.SlobID, 0, len(records))
	for _, r := range records {
		ids = append(ids, types.SlobID(r.SlobID))
	}
	return ids, nil
}

func (x *WaveIndex) FindByParticipant(ctx context.Context, address string, limit int) ([]types.SlobID, error) {
	return x.Find(ctx, FieldParticipant, address, limit)
}

func (x *WaveIndex) FindByWord(ctx context.Context, word string, limit int) ([]types.SlobID, error) {
	return x.Find(ctx, FieldWord, word, limit)
}

// Entries 计算 wavelet 的索引条目
func Entries(w *wave.Wavelet) []slob.IndexEntry {
	entries := make([]slob.IndexEntry, 0, len(w.Participants)+1)
	for _, p := range w.Participants {
		entries = append(entries, slob.IndexEntry{Field: FieldParticipant, Value: truncate(p)})
	}
	if title := normalize(FieldTitle, w.Title); title != "" {
		entries = append(entries, slob.IndexEntry{Field: FieldTitle, Value: title})
	}
	for _, word := range Words(w.IndexText(), MaxWords) {
		entries = append(entries, slob.IndexEntry{Field: FieldWord, Value: word})
	}
	return entries
}

// Words 按出现顺序返回不重复的小写词，最多 limit 个
func Words(text string, limit int) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	words := make([]string, 0, min(len(fields), limit))
	for _, f := range fields {
		if len(words) >= limit {
			break
		}
		word := truncate(strings.ToLower(f))
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		words = append(words, word)
	}
	return words
}

func normalize(field, value string) string {
	switch field {
	case FieldTitle, FieldWord:
		return truncate(strings.ToLower(strings.TrimSpace(value)))
	default:
		return truncate(value)
	}
}

// truncate 在 rune 边界截断到 maxValueBytes
func truncate(s string) string {
	if len(s) <= maxValueBytes {
		return s
	}
	cut := maxValueBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
