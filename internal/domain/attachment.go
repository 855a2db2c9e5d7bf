package domain

// Attachment 表示邮件附件，按接收顺序保存。
type Attachment struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessagePK   string `json:"-" gorm:"type:varchar(36);index;not null"`       // 所属邮件主键
	Position    int    `json:"position"`                                      // 在邮件中的顺序
	Filename    string `json:"filename" gorm:"type:varchar(255)"`             // 文件名
	ContentType string `json:"contentType" gorm:"type:varchar(255)"`          // MIME类型
	Size        int64  `json:"size"`                                          // 大小（字节）
	Content     []byte `json:"-"`                                             // 附件内容
	ContentID   string `json:"contentId,omitempty" gorm:"type:varchar(255)"` // 内联引用ID
}
