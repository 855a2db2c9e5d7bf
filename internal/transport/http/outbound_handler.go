package httptransport

import (
	"github.com/gin-gonic/gin"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/service"
)

type replyRequest struct {
	MessageID string `json:"messageId" binding:"required"`
	Subject   string `json:"subject"`
	Text      string `json:"text" binding:"required"`
	HTML      string `json:"html"`
}

type forwardRequest struct {
	MessageID string   `json:"messageId" binding:"required"`
	To        []string `json:"to" binding:"required,min=1"`
	Subject   string   `json:"subject"`
	Text      string   `json:"text"`
}

type sendRequest struct {
	To      []string `json:"to" binding:"required,min=1"`
	Subject string   `json:"subject" binding:"required"`
	Text    string   `json:"text" binding:"required"`
	HTML    string   `json:"html"`
}

// reply godoc
// @Summary 回复邮件
// @Description 以一次性地址的身份回复原发件人，主题自动加 "Re: " 前缀
// @Tags Outbound
// @Accept json
// @Produce json
// @Param address path string true "邮箱地址"
// @Param request body replyRequest true "回复内容"
// @Success 200 {object} Response{data=domain.DeliveryReceipt}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 502 {object} Response
// @Router /v1/addresses/{address}/reply [post]
func (h *Handler) reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	receipt, err := h.dispatch.Reply(c.Request.Context(), c.Param("address"), service.ReplyInput{
		MessageID: req.MessageID,
		Subject:   req.Subject,
		Text:      req.Text,
		HTML:      req.HTML,
	})
	h.respondDelivery(c, "reply", receipt, err)
}

// forward godoc
// @Summary 转发邮件
// @Tags Outbound
// @Accept json
// @Produce json
// @Param address path string true "邮箱地址"
// @Param request body forwardRequest true "转发参数"
// @Success 200 {object} Response{data=domain.DeliveryReceipt}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 502 {object} Response
// @Router /v1/addresses/{address}/forward [post]
func (h *Handler) forward(c *gin.Context) {
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	receipt, err := h.dispatch.Forward(c.Request.Context(), c.Param("address"), service.ForwardInput{
		MessageID: req.MessageID,
		To:        req.To,
		Subject:   req.Subject,
		Text:      req.Text,
	})
	h.respondDelivery(c, "forward", receipt, err)
}

// send godoc
// @Summary 发送新邮件
// @Tags Outbound
// @Accept json
// @Produce json
// @Param address path string true "邮箱地址"
// @Param request body sendRequest true "邮件内容"
// @Success 200 {object} Response{data=domain.DeliveryReceipt}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 502 {object} Response
// @Router /v1/addresses/{address}/send [post]
func (h *Handler) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	receipt, err := h.dispatch.Send(c.Request.Context(), c.Param("address"), service.SendInput{
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	})
	h.respondDelivery(c, "send", receipt, err)
}

// verifyOutbound godoc
// @Summary 检查外发通道
// @Description 连接 SMTP 中继并发送 NOOP
// @Tags Outbound
// @Produce json
// @Success 200 {object} Response
// @Failure 502 {object} Response
// @Router /v1/outbound/verify [get]
func (h *Handler) verifyOutbound(c *gin.Context) {
	if err := h.dispatch.Verify(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "外发通道可用", gin.H{"relay": h.cfg.Outbound.Enabled()})
}

func (h *Handler) respondDelivery(c *gin.Context, kind string, receipt *domain.DeliveryReceipt, err error) {
	if h.metrics != nil {
		h.metrics.RecordOutbound(kind, err)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "邮件已发送", receipt)
}
