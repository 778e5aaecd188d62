// pkg/types/common.go
package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// MaxSlobIDLength 与 meta 表的 varchar(255) 主键列保持一致
const MaxSlobIDLength = 255

var ErrInvalidSlobID = errors.New("invalid slob id")

// SlobID 是版本化共享对象 (Slob) 的唯一标识符
// 这是一个“值对象”：对象生命周期内稳定，永不复用。
type SlobID string

func (id SlobID) String() string { return string(id) }

func (id SlobID) IsZero() bool { return id == "" }

// Validate 检查 ID 是否可以安全地作为存储主键 / S3 Key / Redis Key
func (id SlobID) Validate() error {
	if id.IsZero() {
		return fmt.Errorf("%w: empty", ErrInvalidSlobID)
	}
	if len(id) > MaxSlobIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSlobID, MaxSlobIDLength)
	}
	if strings.IndexFunc(string(id), unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: contains whitespace", ErrInvalidSlobID)
	}
	if strings.Contains(string(id), "/") {
		return fmt.Errorf("%w: contains '/'", ErrInvalidSlobID)
	}
	return nil
}

// NewSlobID 生成一个新的随机 ID (UUIDv4)
func NewSlobID() SlobID {
	return SlobID(uuid.NewString())
}

// Caller 代表发起变更的身份 (例如参与者地址 "alice@example.com")
type Caller struct {
	ID string
}

func (c Caller) String() string { return c.ID }

func (c Caller) IsZero() bool { return c.ID == "" }
