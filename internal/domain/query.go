package domain

import "math"

// 分页限制
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// MessageQuery 邮件列表查询参数
type MessageQuery struct {
	Page       int
	Limit      int
	UnreadOnly bool
}

// Clamp 规范化分页参数：page 至少为 1，limit 限制在 [1,100]，
// page 上限保证偏移量不超过 int32 范围
func (q MessageQuery) Clamp() MessageQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 1
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	if maxPage := math.MaxInt32/q.Limit + 1; q.Page > maxPage {
		q.Page = maxPage
	}
	return q
}

// Offset 返回需要跳过的记录数
func (q MessageQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Pagination 分页元数据
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// NewPagination 根据查询和总数构造分页信息，pages = ceil(total/limit)
func NewPagination(q MessageQuery, total int64) Pagination {
	pages := 0
	if q.Limit > 0 {
		pages = int((total + int64(q.Limit) - 1) / int64(q.Limit))
	}
	return Pagination{
		Page:  q.Page,
		Limit: q.Limit,
		Total: total,
		Pages: pages,
	}
}
