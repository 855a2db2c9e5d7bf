package httptransport

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/monitoring"
	"burnbox/backend/internal/scheduler"
)

const (
	systemStatsTTL      = 30 * time.Second
	systemStatsCacheKey = "system:stats"
)

// systemStats godoc
// @Summary 系统统计
// @Description 活跃地址数与邮件数，结果缓存 30 秒
// @Tags System
// @Produce json
// @Success 200 {object} Response{data=domain.SystemStats}
// @Failure 503 {object} Response
// @Router /v1/system/stats [get]
func (h *Handler) systemStats(c *gin.Context) {
	v, err := h.cache.GetOrLoad(c.Request.Context(), systemStatsCacheKey, func(ctx context.Context) (any, error) {
		return h.stats.SystemStats(ctx)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	stats := v.(domain.SystemStats)
	Success(c, stats.WithAges(h.now()))
}

type systemStatusResponse struct {
	LastReclaim *scheduler.CycleReport `json:"lastReclaim"`
	Alerts      []monitoring.Alert     `json:"alerts"`
}

// systemStatus godoc
// @Summary 运行状态
// @Description 最近一次回收报告与未解决的告警
// @Tags System
// @Produce json
// @Success 200 {object} Response{data=systemStatusResponse}
// @Router /v1/system/status [get]
func (h *Handler) systemStatus(c *gin.Context) {
	resp := systemStatusResponse{Alerts: []monitoring.Alert{}}
	if h.reclaimer != nil {
		resp.LastReclaim = h.reclaimer.LastReport()
	}
	if h.alerts != nil {
		resp.Alerts = h.alerts.GetActiveAlerts()
	}
	Success(c, resp)
}

// forceReclaim godoc
// @Summary 立即执行回收
// @Description 同步执行一个回收周期，已有周期在执行时返回 409
// @Tags System
// @Produce json
// @Success 200 {object} Response{data=scheduler.CycleReport}
// @Failure 409 {object} Response
// @Failure 503 {object} Response
// @Router /v1/system/reclaim [post]
func (h *Handler) forceReclaim(c *gin.Context) {
	if h.reclaimer == nil {
		Error(c, CodeServiceUnavailable, "回收任务未启用")
		return
	}

	report, err := h.reclaimer.ForceCycle(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	h.cache.Delete(systemStatsCacheKey)
	SuccessWithMsg(c, "回收完成", report)
}
