package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/scheduler"
	"burnbox/backend/internal/service"
	"burnbox/backend/internal/storage"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgInvalidJSON        = "JSON格式错误"
	MsgAddressNotFound    = "邮箱地址不存在"
	MsgAddressExpired     = "邮箱地址已过期"
	MsgMessageNotFound    = "邮件不存在"
	MsgAttachmentNotFound = "附件不存在"
	MsgDomainNotAllowed   = "域名不在允许列表中"
	MsgDuplicateMessage   = "邮件已存在"
	MsgStoreUnavailable   = "存储服务暂时不可用，请稍后重试"
	MsgGenerationFailed   = "无法生成唯一的邮箱地址，请稍后重试"
	MsgDeliveryFailed     = "邮件发送失败"
	MsgReclaimRunning     = "回收任务正在执行"
	MsgInternal           = "服务器内部错误"
)

// errorMapping 业务错误到状态码与中文消息的映射，按顺序匹配
var errorMapping = []struct {
	err    error
	status int
	msg    string
}{
	{domain.ErrMalformedPayload, http.StatusBadRequest, ""},
	{domain.ErrDomainNotAllowed, http.StatusBadRequest, MsgDomainNotAllowed},
	{domain.ErrUnknownRecipient, http.StatusNotFound, MsgAddressNotFound},
	{storage.ErrAddressNotFound, http.StatusNotFound, MsgAddressNotFound},
	{domain.ErrRecipientExpired, http.StatusGone, MsgAddressExpired},
	{storage.ErrMessageNotFound, http.StatusNotFound, MsgMessageNotFound},
	{domain.ErrAttachmentNotFound, http.StatusNotFound, MsgAttachmentNotFound},
	{storage.ErrDuplicateMessageID, http.StatusConflict, MsgDuplicateMessage},
	{scheduler.ErrCycleRunning, http.StatusConflict, MsgReclaimRunning},
	{domain.ErrAddressGenerationExhausted, http.StatusServiceUnavailable, MsgGenerationFailed},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, MsgStoreUnavailable},
	{service.ErrDeliveryFailed, http.StatusBadGateway, MsgDeliveryFailed},
}

// statusOf 返回错误对应的状态码和消息
func statusOf(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			msg := m.msg
			if msg == "" {
				msg = err.Error()
			}
			return m.status, msg
		}
	}
	return http.StatusInternalServerError, MsgInternal
}

// respondError 将业务错误转换为统一响应
func respondError(c *gin.Context, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	Error(c, status, msg)
}
