package httptransport

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
)

type listMessagesResponse struct {
	Messages    []domain.Summary  `json:"messages"`
	Pagination  domain.Pagination `json:"pagination"`
	UnreadCount int64             `json:"unreadCount"`
	EmailInfo   addressResponse   `json:"emailInfo"`
}

// listMessages godoc
// @Summary 邮件列表
// @Description 按接收时间倒序分页返回未删除的邮件
// @Tags Messages
// @Produce json
// @Param address path string true "邮箱地址"
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(50)
// @Param unread query bool false "只返回未读"
// @Success 200 {object} Response{data=listMessagesResponse}
// @Failure 404 {object} Response
// @Failure 410 {object} Response
// @Router /v1/addresses/{address}/messages [get]
func (h *Handler) listMessages(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}

	q := domain.MessageQuery{
		Page:       queryInt(c, "page", 1),
		Limit:      queryInt(c, "limit", domain.DefaultPageLimit),
		UnreadOnly: c.Query("unread") == "true",
	}
	ctx := c.Request.Context()
	messages, pagination, err := h.mailbox.List(ctx, addr.Address, q)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.mailbox.UnreadCount(ctx, addr.Address)
	if err != nil {
		respondError(c, err)
		return
	}

	summaries := make([]domain.Summary, 0, len(messages))
	for i := range messages {
		summaries = append(summaries, messages[i].Summarize())
	}
	Success(c, listMessagesResponse{
		Messages:    summaries,
		Pagination:  pagination,
		UnreadCount: unread,
		EmailInfo:   h.toAddressResponse(addr),
	})
}

// deleteAllMessages godoc
// @Summary 清空邮箱
// @Tags Messages
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response
// @Router /v1/addresses/{address}/messages [delete]
func (h *Handler) deleteAllMessages(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}
	n, err := h.mailbox.SoftDeleteAll(c.Request.Context(), addr.Address)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"deleted": n})
}

// markAllRead godoc
// @Summary 全部标记为已读
// @Tags Messages
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response
// @Router /v1/addresses/{address}/messages/read-all [post]
func (h *Handler) markAllRead(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}
	n, err := h.mailbox.MarkAllRead(c.Request.Context(), addr.Address)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"updated": n})
}

// getMessage godoc
// @Summary 邮件详情
// @Description id 可以是邮件主键或 messageId
// @Tags Messages
// @Produce json
// @Param address path string true "邮箱地址"
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Router /v1/addresses/{address}/messages/{id} [get]
func (h *Handler) getMessage(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}
	msg, err := h.mailbox.Get(c.Request.Context(), addr.Address, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, msg)
}

// markRead godoc
// @Summary 标记为已读
// @Tags Messages
// @Produce json
// @Param address path string true "邮箱地址"
// @Param id path string true "邮件ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/addresses/{address}/messages/{id}/read [patch]
func (h *Handler) markRead(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}
	if err := h.mailbox.MarkRead(c.Request.Context(), addr.Address, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "已标记为已读", nil)
}

// deleteMessage godoc
// @Summary 删除邮件
// @Tags Messages
// @Produce json
// @Param address path string true "邮箱地址"
// @Param id path string true "邮件ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/addresses/{address}/messages/{id} [delete]
func (h *Handler) deleteMessage(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}
	if err := h.mailbox.SoftDelete(c.Request.Context(), addr.Address, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "邮件已删除", nil)
}

// downloadAttachment godoc
// @Summary 下载附件
// @Tags Messages
// @Produce octet-stream
// @Param address path string true "邮箱地址"
// @Param id path string true "邮件ID"
// @Param index path int true "附件序号"
// @Success 200 {file} binary
// @Failure 404 {object} Response
// @Router /v1/addresses/{address}/messages/{id}/attachments/{index} [get]
func (h *Handler) downloadAttachment(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	att, err := h.mailbox.Attachment(c.Request.Context(), addr.Address, c.Param("id"), index)
	if err != nil {
		respondError(c, err)
		return
	}

	if v := h.inspector.Inspect(att); v.Dangerous {
		h.log.Warn("serving dangerous attachment as binary",
			zap.String("address", addr.Address),
			zap.String("filename", att.Filename),
			zap.String("reason", v.Reason),
		)
	}
	contentType := h.inspector.ContentType(att)
	filename := att.Filename
	if filename == "" {
		filename = fmt.Sprintf("attachment-%d", index)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, att.Content)
}

// queryInt 读取整数查询参数，缺失或非法时返回默认值
func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
