// Package security 对不可信的入站附件做下载前检查。
package security

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"

	"burnbox/backend/internal/domain"
)

// fallbackContentType 不安全或无法识别的附件一律以二进制流下载
const fallbackContentType = "application/octet-stream"

// Verdict 附件检查结果
type Verdict struct {
	Dangerous bool
	Reason    string
}

// AttachmentInspector 附件检查器
type AttachmentInspector struct {
	// 可以按原类型返回给浏览器的 MIME 类型
	inlineTypes map[string]bool

	// 危险文件扩展名
	dangerousExtensions map[string]bool
}

// NewAttachmentInspector 创建附件检查器
func NewAttachmentInspector() *AttachmentInspector {
	return &AttachmentInspector{
		inlineTypes: map[string]bool{
			"text/plain":      true,
			"application/pdf": true,
			"image/jpeg":      true,
			"image/png":       true,
			"image/gif":       true,
			"image/webp":      true,
		},
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".php": true,
			".asp": true,
			".jsp": true,
			".hta": true,
			".ps1": true,
		},
	}
}

// Inspect 按扩展名与文件魔数判断附件是否可执行
func (ai *AttachmentInspector) Inspect(att *domain.Attachment) Verdict {
	ext := strings.ToLower(filepath.Ext(att.Filename))
	if ai.dangerousExtensions[ext] {
		return Verdict{Dangerous: true, Reason: "dangerous file extension: " + ext}
	}
	if isExecutable(att.Content) {
		return Verdict{Dangerous: true, Reason: "executable file detected"}
	}
	if strings.HasPrefix(mediaType(att.ContentType), "text/") && containsScript(att.Content) {
		return Verdict{Dangerous: true, Reason: "script detected in text attachment"}
	}
	return Verdict{}
}

// ContentType 返回下载时使用的 Content-Type。
// 只有白名单内且检查通过的附件保留原类型，HTML 等可执行脚本的类型一律降级为二进制流。
func (ai *AttachmentInspector) ContentType(att *domain.Attachment) string {
	mt := mediaType(att.ContentType)
	if !ai.inlineTypes[mt] || ai.Inspect(att).Dangerous {
		return fallbackContentType
	}
	return mt
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O
	{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O (reverse)
}

func isExecutable(content []byte) bool {
	for _, sig := range executableSignatures {
		if bytes.HasPrefix(content, sig) {
			return true
		}
	}
	return false
}

// containsScript 只检查前 512 字节
func containsScript(content []byte) bool {
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<script")) || bytes.Contains(lower, []byte("javascript:"))
}
