package wire

import (
	"errors"
	"fmt"
)

// Kind 协议错误类别
type Kind int

const (
	KindShortHeader        Kind = iota + 1 // 响应不足 4 字节长度头
	KindIncomplete                         // 重组未在重试上限内完成
	KindMalformedState                     // 状态结构体长度不符
	KindUnexpectedResponse                 // 响应内容不符合预期
	KindFrameSizeMismatch                  // 帧长度与声明不符
	KindSequenceDesync                     // 多步序列中设备与主机失步
)

func (k Kind) String() string {
	switch k {
	case KindShortHeader:
		return "short header"
	case KindIncomplete:
		return "incomplete response"
	case KindMalformedState:
		return "malformed state"
	case KindUnexpectedResponse:
		return "unexpected response"
	case KindFrameSizeMismatch:
		return "frame size mismatch"
	case KindSequenceDesync:
		return "sequence desync"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ProtocolError 设备协议错误，可上报、可恢复（序列失步除外）
type ProtocolError struct {
	Kind   Kind
	Op     string // 出错的命令，如 "ping"
	Detail string
}

func (e *ProtocolError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is 按类别匹配，使 errors.Is(err, ErrShortHeader) 对任何同类错误成立
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrShortHeader        = &ProtocolError{Kind: KindShortHeader}
	ErrIncomplete         = &ProtocolError{Kind: KindIncomplete}
	ErrMalformedState     = &ProtocolError{Kind: KindMalformedState}
	ErrUnexpectedResponse = &ProtocolError{Kind: KindUnexpectedResponse}
	ErrFrameSizeMismatch  = &ProtocolError{Kind: KindFrameSizeMismatch}
	ErrSequenceDesync     = &ProtocolError{Kind: KindSequenceDesync}
)

// NewProtocolError 构造带上下文的协议错误
func NewProtocolError(kind Kind, op string, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

var (
	// ErrDeviceNotFound 设备不存在，致命，需检查连接
	ErrDeviceNotFound = errors.New("device not found")
	// ErrReadoutBusy 已有读出在进行，调用方应等待或放弃
	ErrReadoutBusy = errors.New("readout already in progress")
	// ErrTimeout 等待设备超过上限，非致命，由调用方决定是否重试
	ErrTimeout = errors.New("device timeout")
)

// ValidationKind 参数校验错误类别
type ValidationKind int

const (
	OutOfRange ValidationKind = iota + 1
	InvalidEnum
)

// ValidationError 本地参数校验失败，未发生任何设备 I/O
type ValidationError struct {
	Kind  ValidationKind
	Field string
	Value any
	Limit string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case OutOfRange:
		return fmt.Sprintf("%s %v out of range (%s)", e.Field, e.Value, e.Limit)
	case InvalidEnum:
		return fmt.Sprintf("%s %v is not a valid value", e.Field, e.Value)
	default:
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
	}
}

// IsValidationError 判断 err 链中是否包含校验错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsProtocolError 判断 err 链中是否包含协议错误
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
