package wave

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNotWavelet        = errors.New("state is not a wavelet")
	ErrCorruptSnapshot   = errors.New("corrupt wavelet snapshot")
	ErrInvalidAddress    = errors.New("invalid participant address")
	ErrEmptyDelta        = errors.New("delta has no operations")
	ErrUnknownOp         = errors.New("unknown delta operation")
	ErrCorruptDelta      = errors.New("corrupt delta")
	ErrTooManyOperations = errors.New("delta has too many operations")
)

// Wavelet 是会话 wavelet 的只读快照 (ReadableWaveletObject)
// 每次 Apply 都返回新的 *Wavelet，已有的值不会被修改。
type Wavelet struct {
	Title string `cbor:"title"`

	// Participants 有序且唯一
	Participants []string `cbor:"participants"`

	Body string `cbor:"body"`
}

// Snapshot 返回确定性的 CBOR 编码
func (w *Wavelet) Snapshot() ([]byte, error) {
	return encode(w)
}

// HasParticipant 判断 address 是否为参与者
func (w *Wavelet) HasParticipant(address string) bool {
	_, found := slices.BinarySearch(w.Participants, address)
	return found
}

// IndexText 是推送到外部索引的文本：标题 + 换行 + 正文
func (w *Wavelet) IndexText() string {
	return w.Title + "\n" + w.Body
}

func (w *Wavelet) clone() *Wavelet {
	return &Wavelet{
		Title:        w.Title,
		Participants: slices.Clone(w.Participants),
		Body:         w.Body,
	}
}

// Decode 解析快照。空数据表示尚未创建的 wavelet。
func Decode(data []byte) (*Wavelet, error) {
	if len(data) == 0 {
		return &Wavelet{}, nil
	}
	var w Wavelet
	if err := decode(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	// 快照可能来自旧版本写入，重新规范化参与者列表
	slices.Sort(w.Participants)
	w.Participants = slices.Compact(w.Participants)
	return &w, nil
}
