package wave

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// 确定性 CBOR 编码：相同的 wavelet 总是得到相同的快照字节
var encOptions = cbor.EncOptions{
	// Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	// 禁止不定长编码，数组和 Map 必须在头部声明长度
	IndefLength: cbor.IndefLengthForbidden,

	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// --- 安全性配置 (防 DoS 攻击) ---
	// 快照和 delta 都来自外部输入，限制容器大小和嵌套深度
	MaxArrayElements: 10000,
	MaxMapPairs:      1000,
	MaxNestedLevels:  16,

	IndefLength: cbor.IndefLengthForbidden,

	// 重复 Key 直接拒绝
	DupMapKey: cbor.DupMapKeyEnforcedAPF,

	TimeTag: cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

func encode(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}
