package domain

import (
	"errors"
	"fmt"
)

// 核心错误分类
var (
	// ErrAddressGenerationExhausted 多次生成地址均冲突
	ErrAddressGenerationExhausted = errors.New("address generation exhausted")
	// ErrUnknownRecipient 收件地址不存在
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrRecipientExpired 收件地址已过期
	ErrRecipientExpired = errors.New("recipient expired")
	// ErrOrphanedMessage 邮件已保存，但所属地址已被删除
	ErrOrphanedMessage = errors.New("orphaned message")
	// ErrMalformedPayload 入站数据缺少必要字段
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrStoreUnavailable 存储不可用
	ErrStoreUnavailable = errors.New("store unavailable")
)

// 查询与约束相关错误
var (
	ErrAddressNotFound    = errors.New("address not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrDomainNotAllowed   = errors.New("domain not allowed")
	ErrDuplicateMessageID = errors.New("duplicate message id")
)

// MalformedError 描述缺失或非法的字段。
// errors.Is(err, ErrMalformedPayload) 对其返回 true。
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed payload: %s %s", e.Field, e.Reason)
}

// Is 使 MalformedError 可以与 ErrMalformedPayload 比较
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// Malformed 构造字段校验错误
func Malformed(field, reason string) error {
	return &MalformedError{Field: field, Reason: reason}
}
