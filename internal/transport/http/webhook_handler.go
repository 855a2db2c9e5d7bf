package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/service"
)

const (
	mailgunDedupScope = "mailgun"
	defaultDedupTTL   = 24 * time.Hour
	noSubject         = "(No Subject)"
)

type webhookAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"` // base64
	ContentID   string `json:"contentId"`
}

type webhookEmailRequest struct {
	To          string              `json:"to"`
	From        string              `json:"from"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	BodyHTML    string              `json:"bodyHtml"`
	BodyText    string              `json:"bodyText"`
	Attachments []webhookAttachment `json:"attachments"`
	Headers     map[string]string   `json:"headers"`
	MessageID   string              `json:"messageId"`
	Priority    string              `json:"priority"`
}

type storedMessageResponse struct {
	MessageID  string    `json:"messageId"`
	To         string    `json:"to"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type mockEmailRequest struct {
	EmailAddress string `json:"emailAddress"`
	Count        int    `json:"count"`
}

type mockEmailResponse struct {
	Generated int                     `json:"generated"`
	Emails    []storedMessageResponse `json:"emails"`
}

func toStoredResponse(msg *domain.Message) storedMessageResponse {
	return storedMessageResponse{
		MessageID:  msg.MessageID,
		To:         msg.To,
		From:       msg.From,
		Subject:    msg.Subject,
		ReceivedAt: msg.ReceivedAt,
	}
}

// webhookEmail godoc
// @Summary 接收 webhook 邮件
// @Description 外部系统以 JSON 推送一封邮件，to 与 from 必填；重复的 messageId 返回 409
// @Tags Webhook
// @Accept json
// @Produce json
// @Param request body webhookEmailRequest true "邮件内容"
// @Success 201 {object} Response{data=storedMessageResponse}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Failure 410 {object} Response
// @Router /v1/webhook/email [post]
func (h *Handler) webhookEmail(c *gin.Context) {
	var req webhookEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.recordRejected(domain.SourceWebhook, domain.ErrMalformedPayload)
		BadRequest(c, MsgInvalidJSON)
		return
	}

	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for i, a := range req.Attachments {
		attachments = append(attachments, domain.Attachment{
			Position:    i,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(len(a.Content)),
			Content:     a.Content,
			ContentID:   a.ContentID,
		})
	}

	msg, err := h.ingestTimed(c, service.InboundMail{
		To:          req.To,
		From:        req.From,
		Subject:     req.Subject,
		Body:        req.Body,
		BodyHTML:    req.BodyHTML,
		BodyText:    req.BodyText,
		Attachments: attachments,
		Headers:     req.Headers,
		MessageID:   req.MessageID,
		Priority:    domain.ParsePriority(req.Priority),
		Source:      domain.SourceWebhook,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, toStoredResponse(msg))
}

// mockEmail godoc
// @Summary 生成模拟邮件
// @Description 为地址生成 1 到 10 封模拟邮件，接收时间分布在过去一小时内
// @Tags Webhook
// @Accept json
// @Produce json
// @Param request body mockEmailRequest true "模拟参数"
// @Success 201 {object} Response{data=mockEmailResponse}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 410 {object} Response
// @Router /v1/webhook/mock-email [post]
func (h *Handler) mockEmail(c *gin.Context) {
	var req mockEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	generated, err := h.ingest.InjectMock(c.Request.Context(), req.EmailAddress, req.Count)
	if err != nil && len(generated) == 0 {
		h.recordRejected(domain.SourceMock, err)
		respondError(c, err)
		return
	}
	if err != nil {
		h.log.Warn("mock generation stopped early",
			zap.String("address", req.EmailAddress),
			zap.Int("generated", len(generated)),
			zap.Error(err),
		)
	}

	emails := make([]storedMessageResponse, 0, len(generated))
	for i := range generated {
		emails = append(emails, toStoredResponse(&generated[i]))
	}
	Created(c, mockEmailResponse{Generated: len(emails), Emails: emails})
}

// mailgun godoc
// @Summary Mailgun 入站回调
// @Description 接收 Mailgun 转发的邮件，成功或重复投递时返回纯文本 OK
// @Tags Webhook
// @Accept x-www-form-urlencoded
// @Accept mpfd
// @Produce plain
// @Param recipient formData string true "收件人"
// @Param sender formData string true "发件人"
// @Param subject formData string false "主题"
// @Param body-plain formData string false "纯文本正文"
// @Param body-html formData string false "HTML 正文"
// @Param stripped-text formData string false "去除引用后的正文"
// @Param stripped-html formData string false "去除引用后的 HTML"
// @Param timestamp formData int false "Unix 时间戳（秒）"
// @Param message-id formData string false "Message-Id"
// @Success 200 {string} string "OK"
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 410 {object} Response
// @Router /v1/webhook/mailgun [post]
func (h *Handler) mailgun(c *gin.Context) {
	ctx := c.Request.Context()
	messageID := strings.TrimSpace(c.PostForm("message-id"))

	claimed := false
	if messageID != "" && h.dedup != nil {
		ttl := h.cfg.Redis.DedupTTL
		if ttl <= 0 {
			ttl = defaultDedupTTL
		}
		if !h.dedup.AcquireOnce(ctx, mailgunDedupScope, messageID, ttl) {
			h.log.Info("duplicate mailgun delivery acknowledged", zap.String("message_id", messageID))
			c.String(http.StatusOK, "OK")
			return
		}
		claimed = true
	}

	subject := c.PostForm("subject")
	if subject == "" {
		subject = noSubject
	}
	html := c.PostForm("stripped-html")
	if html == "" {
		html = c.PostForm("body-html")
	}

	in := service.InboundMail{
		To:        c.PostForm("recipient"),
		From:      c.PostForm("sender"),
		Subject:   subject,
		BodyHTML:  html,
		BodyText:  c.PostForm("body-plain"),
		Override:  c.PostForm("stripped-text"),
		MessageID: messageID,
		Source:    domain.SourceRelayProvider,
	}
	if ts, err := strconv.ParseInt(c.PostForm("timestamp"), 10, 64); err == nil && ts > 0 {
		in.ReceivedAt = time.Unix(ts, 0).UTC()
	}

	_, err := h.ingestTimed(c, in)
	if errors.Is(err, domain.ErrDuplicateMessageID) {
		c.String(http.StatusOK, "OK")
		return
	}
	if err != nil {
		// 未保存成功时释放去重键，服务商重投才能再次入库
		if claimed {
			h.dedup.Release(context.WithoutCancel(ctx), mailgunDedupScope, messageID)
		}
		respondError(c, err)
		return
	}
	c.String(http.StatusOK, "OK")
}

// webhookTest godoc
// @Summary Webhook 自检
// @Tags Webhook
// @Produce json
// @Success 200 {object} Response
// @Router /v1/webhook/test [get]
func (h *Handler) webhookTest(c *gin.Context) {
	SuccessWithMsg(c, "Webhook 接口正常", gin.H{
		"timestamp": h.now().UTC(),
		"endpoints": gin.H{
			"email":     "POST /v1/webhook/email",
			"mockEmail": "POST /v1/webhook/mock-email",
			"mailgun":   "POST /v1/webhook/mailgun",
		},
	})
}

// ingestTimed 调用入站网关并记录耗时与拒收原因
func (h *Handler) ingestTimed(c *gin.Context, in service.InboundMail) (*domain.Message, error) {
	start := time.Now()
	msg, err := h.ingest.Ingest(c.Request.Context(), in)
	if h.metrics != nil {
		h.metrics.RecordIngestDuration(string(in.Source), time.Since(start))
	}
	if err != nil {
		h.recordRejected(in.Source, err)
	}
	return msg, err
}

func (h *Handler) recordRejected(source domain.MessageSource, err error) {
	if h.metrics != nil {
		h.metrics.RecordIngestRejected(string(source), rejectReason(err))
	}
}

// rejectReason 拒收原因的指标标签
func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, domain.ErrUnknownRecipient), errors.Is(err, domain.ErrAddressNotFound):
		return "unknown_recipient"
	case errors.Is(err, domain.ErrRecipientExpired):
		return "expired"
	case errors.Is(err, domain.ErrDuplicateMessageID):
		return "duplicate"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "other"
	}
}
