package service

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"burnbox/backend/internal/domain"
)

// EmptyBodyPlaceholder 所有正文字段都为空时写入 body 的内容
const EmptyBodyPlaceholder = "Empty message"

// NewMessageID 生成 <随机串>@<域名> 形式的 messageId
func NewMessageID(domainName string) string {
	return uuid.NewString() + "@" + domainName
}

// NormalizeBody 补全邮件正文字段。
//
// 规则:
//   - 只有 HTML 时，去掉标签生成 bodyText
//   - body 的优先级: override > 已有 body > HTML > 纯文本 > 占位文本
func NormalizeBody(msg *domain.Message, override string) {
	if strings.TrimSpace(msg.BodyText) == "" && msg.BodyHTML != "" {
		msg.BodyText = StripHTML(msg.BodyHTML)
	}

	switch {
	case override != "":
		msg.Body = override
	case msg.Body != "":
	case msg.BodyHTML != "":
		msg.Body = msg.BodyHTML
	case msg.BodyText != "":
		msg.Body = msg.BodyText
	default:
		msg.Body = EmptyBodyPlaceholder
	}
}

// blockTags 输出换行的块级元素
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "blockquote": true, "hr": true,
}

// StripHTML 去掉 HTML 标签，返回纯文本。
// script 与 style 的内容会被丢弃，实体会被解码。
func StripHTML(s string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return tidyText(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			b.Write(tokenizer.Text())
		}
	}
}

// tidyText 合并每行内的空白并去掉空行
func tidyText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
