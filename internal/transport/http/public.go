package httptransport

import (
	"github.com/gin-gonic/gin"
)

type publicConfigResponse struct {
	Domain          string          `json:"domain"`
	AllowedDomains  []string        `json:"allowedDomains"`
	TTLHours        float64         `json:"ttlHours"`
	MaxMessages     int             `json:"maxMessages"`
	MaxMessageBytes int64           `json:"maxMessageBytes"`
	Features        map[string]bool `json:"features"`
}

// publicConfig godoc
// @Summary 公开配置
// @Description 前端启动时读取的域名、有效期与功能开关
// @Tags Public
// @Produce json
// @Success 200 {object} Response{data=publicConfigResponse}
// @Router /v1/public/config [get]
func (h *Handler) publicConfig(c *gin.Context) {
	Success(c, publicConfigResponse{
		Domain:          h.registry.Domain(),
		AllowedDomains:  h.registry.AllowedDomains(),
		TTLHours:        h.registry.TTL().Hours(),
		MaxMessages:     h.cfg.Retention.MaxMessages,
		MaxMessageBytes: h.cfg.SMTP.MaxMessageBytes,
		Features: map[string]bool{
			"smtp":     h.cfg.SMTP.Port > 0,
			"outbound": h.cfg.Outbound.Enabled(),
			"realtime": true,
			"events":   h.cfg.Events.AMQPURL != "",
		},
	})
}
