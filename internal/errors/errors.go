package errors

import (
	stdErrors "errors"
	"fmt"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeConfigInvalid      Code = "CONFIG_INVALID"
	CodeChainRead          Code = "CHAIN_READ"
	CodeChainWrite         Code = "CHAIN_WRITE"
	CodeTxReverted         Code = "TX_REVERTED"
	CodeTxUnderpriced      Code = "TX_UNDERPRICED"
	CodeNonceStale         Code = "NONCE_STALE"
	CodeTxNotFound         Code = "TX_NOT_FOUND"
	CodeMarketplaceFailure Code = "MARKETPLACE_FAILURE"
	CodeStorageFailure     Code = "STORAGE_FAILURE"
	CodeInsufficientPool   Code = "INSUFFICIENT_POOL"
	CodeOrderInvalid       Code = "ORDER_INVALID"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var registry = map[Code]Attributes{
	CodeUnknown:            {Message: "unknown error", Severity: SeverityCritical, Alert: true},
	CodeConfigInvalid:      {Message: "invalid configuration", Severity: SeverityCritical, Alert: true},
	CodeChainRead:          {Message: "chain read failed", Severity: SeverityWarning, Retryable: true},
	CodeChainWrite:         {Message: "chain write failed", Severity: SeverityWarning, Alert: true},
	CodeTxReverted:         {Message: "transaction reverted", Severity: SeverityWarning, Alert: true},
	CodeTxUnderpriced:      {Message: "transaction underpriced", Severity: SeverityInfo, Retryable: true},
	CodeNonceStale:         {Message: "stale nonce", Severity: SeverityInfo, Retryable: true},
	CodeTxNotFound:         {Message: "transaction not found", Severity: SeverityWarning},
	CodeMarketplaceFailure: {Message: "marketplace request failed", Severity: SeverityWarning, Retryable: true},
	CodeStorageFailure:     {Message: "storage failure", Severity: SeverityCritical, Alert: true},
	CodeInsufficientPool:   {Message: "insufficient pool balance", Severity: SeverityInfo},
	CodeOrderInvalid:       {Message: "invalid order", Severity: SeverityWarning, Alert: true},
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息（订单哈希、合约地址、金额等）。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// Retryable 判断任意 error 是否可重试。
func Retryable(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Retryable
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Alert
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Severity
	}
	return AttributesOf(CodeUnknown).Severity
}
