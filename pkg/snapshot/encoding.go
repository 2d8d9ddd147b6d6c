package snapshot

import (
	"encoding/hex"
	"fmt"

	"fsundo/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 符合 DAG-CBOR 规范的编码选项
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)，相同的快照得到相同的 Hash
	Sort: cbor.SortCanonical,

	// 2. 浮点数必须使用 64 位表示
	ShortestFloat: cbor.ShortestFloatNone,

	// 3. 时间格式化为 Unix 整数，禁止 Tag 0/1
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,

	BigIntConvert: cbor.BigIntConvertShortest,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// 限制容器大小和嵌套深度，防止损坏的数据耗尽内存
	// 单个目录的条目数上限也由这里决定
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1000,
	MaxNestedLevels:  32,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	BignumTag:   cbor.BignumTagForbidden,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// encode 序列化并计算内容 Hash
func encode(v any) (types.Hash, []byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return types.SumBytes(data), data, nil
}

func decode(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}

const linkTagNumber = 42

// Link 指向 Store 中另一个对象 (blob 或 tree)
// CBOR 层面序列化为 Tag 42(0x00 + HashBytes)
type Link struct {
	Hash types.Hash
}

func NewLink(hash types.Hash) *Link {
	return &Link{Hash: hash}
}

func (l Link) MarshalCBOR() ([]byte, error) {
	hashBytes, err := hex.DecodeString(string(l.Hash))
	if err != nil {
		return nil, fmt.Errorf("invalid hash format in link: %w", err)
	}

	// 0x00: multibase identity 前缀
	cidBytes := append([]byte{0x00}, hashBytes...)
	return em.Marshal(cbor.Tag{
		Number:  linkTagNumber,
		Content: cidBytes,
	})
}

func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := dm.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != linkTagNumber {
		return fmt.Errorf("expected tag 42 for Link, got %d", tag.Number)
	}

	raw, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("link content must be byte string")
	}
	if len(raw) < 1 || raw[0] != 0x00 {
		return fmt.Errorf("invalid link: missing 0x00 multibase prefix")
	}

	l.Hash = types.Hash(hex.EncodeToString(raw[1:]))
	return nil
}
