package wave

import (
	"fmt"
	"strings"

	"slobstore/pkg/slob"
)

// MaxOperations 限制单个 delta 的操作数
const MaxOperations = 1000

// OpKind 定义了 delta 中的操作类型
type OpKind string

const (
	OpAddParticipant    OpKind = "add_participant"
	OpRemoveParticipant OpKind = "remove_participant"
	OpSetTitle          OpKind = "set_title"
	OpAppendText        OpKind = "append_text"
)

// Op 是一个原子操作
type Op struct {
	Kind  OpKind `cbor:"kind"`
	Value string `cbor:"value"`
}

// Delta 是一组按顺序应用的操作
type Delta struct {
	Ops []Op `cbor:"ops"`
}

func AddParticipant(address string) Op    { return Op{Kind: OpAddParticipant, Value: address} }
func RemoveParticipant(address string) Op { return Op{Kind: OpRemoveParticipant, Value: address} }
func SetTitle(title string) Op            { return Op{Kind: OpSetTitle, Value: title} }
func AppendText(text string) Op           { return Op{Kind: OpAppendText, Value: text} }

// NewDelta 把操作编码成 slob.Delta
func NewDelta(ops ...Op) (slob.Delta, error) {
	return Delta{Ops: ops}.Encode()
}

// Encode 返回 delta 的 CBOR 编码
func (d Delta) Encode() (slob.Delta, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	data, err := encode(d)
	if err != nil {
		return nil, err
	}
	return slob.Delta(data), nil
}

// Validate 检查操作数量、类型和参与者地址
func (d Delta) Validate() error {
	if len(d.Ops) == 0 {
		return ErrEmptyDelta
	}
	if len(d.Ops) > MaxOperations {
		return fmt.Errorf("%w: %d > %d", ErrTooManyOperations, len(d.Ops), MaxOperations)
	}
	for i, op := range d.Ops {
		switch op.Kind {
		case OpAddParticipant, OpRemoveParticipant:
			if err := validateAddress(op.Value); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		case OpSetTitle, OpAppendText:
		default:
			return fmt.Errorf("op %d: %w: %q", i, ErrUnknownOp, op.Kind)
		}
	}
	return nil
}

// DecodeDelta 解析并校验 delta
func DecodeDelta(data slob.Delta) (Delta, error) {
	if len(data) == 0 {
		return Delta{}, ErrEmptyDelta
	}
	var d Delta
	if err := decode(data, &d); err != nil {
		return Delta{}, fmt.Errorf("%w: %w", ErrCorruptDelta, err)
	}
	if err := d.Validate(); err != nil {
		return Delta{}, err
	}
	return d, nil
}

func validateAddress(address string) error {
	if address == "" || strings.ContainsAny(address, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}
