package httptransport

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
)

type createAddressRequest struct {
	Domain string `json:"domain"`
}

type addressResponse struct {
	ID             string               `json:"id"`
	Address        string               `json:"address"`
	LocalPart      string               `json:"localPart"`
	Domain         string               `json:"domain"`
	IsActive       bool                 `json:"isActive"`
	CreatedAt      time.Time            `json:"createdAt"`
	ExpiresAt      time.Time            `json:"expiresAt"`
	TimeRemaining  domain.TimeRemaining `json:"timeRemaining"`
	MessageCount   int                  `json:"messageCount"`
	LastAccessedAt time.Time            `json:"lastAccessedAt"`
}

func (h *Handler) toAddressResponse(addr *domain.Address) addressResponse {
	return addressResponse{
		ID:             addr.ID,
		Address:        addr.Address,
		LocalPart:      addr.LocalPart,
		Domain:         addr.Domain,
		IsActive:       addr.IsActive,
		CreatedAt:      addr.CreatedAt,
		ExpiresAt:      addr.ExpiresAt,
		TimeRemaining:  addr.TimeRemaining(h.now()),
		MessageCount:   addr.MessageCount,
		LastAccessedAt: addr.LastAccessedAt,
	}
}

// openAddress 读取路径参数中的地址，已过期的地址返回 410 并被停用
func (h *Handler) openAddress(c *gin.Context) (*domain.Address, bool) {
	addr, err := h.registry.Open(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return addr, true
}

// createAddress godoc
// @Summary 生成临时邮箱
// @Description 生成一个随机的一次性邮箱地址，可以指定允许列表中的域名
// @Tags Addresses
// @Accept json
// @Produce json
// @Param request body createAddressRequest false "地址参数"
// @Success 201 {object} Response{data=addressResponse}
// @Failure 400 {object} Response
// @Failure 503 {object} Response
// @Router /v1/addresses [post]
func (h *Handler) createAddress(c *gin.Context) {
	var req createAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	addr, err := h.registry.Generate(c.Request.Context(), req.Domain)
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, h.toAddressResponse(addr))
}

// getAddress godoc
// @Summary 获取邮箱信息
// @Description 查询地址状态并刷新最近访问时间，已过期的地址返回 410
// @Tags Addresses
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response{data=addressResponse}
// @Failure 404 {object} Response
// @Failure 410 {object} Response
// @Router /v1/addresses/{address} [get]
func (h *Handler) getAddress(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}
	Success(c, h.toAddressResponse(addr))
}

// deleteAddress godoc
// @Summary 删除邮箱
// @Description 停用地址并软删除其全部邮件，邮件由回收任务物理清除
// @Tags Addresses
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/addresses/{address} [delete]
func (h *Handler) deleteAddress(c *gin.Context) {
	ctx := c.Request.Context()
	addr, err := h.registry.Lookup(ctx, c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.registry.Deactivate(ctx, addr.Address); err != nil {
		respondError(c, err)
		return
	}
	deleted, err := h.mailbox.SoftDeleteAll(ctx, addr.Address)
	if err != nil {
		h.log.Warn("failed to soft delete messages of deleted address",
			zap.String("address", addr.Address), zap.Error(err))
	}

	SuccessWithMsg(c, "邮箱已删除", gin.H{
		"address":         addr.Address,
		"deletedMessages": deleted,
	})
}

// addressStats godoc
// @Summary 邮箱统计
// @Tags Addresses
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response{data=domain.MailboxStats}
// @Failure 404 {object} Response
// @Failure 410 {object} Response
// @Router /v1/addresses/{address}/stats [get]
func (h *Handler) addressStats(c *gin.Context) {
	addr, ok := h.openAddress(c)
	if !ok {
		return
	}
	stats, err := h.mailbox.Stats(c.Request.Context(), addr)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, stats)
}
