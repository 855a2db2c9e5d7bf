package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"burnbox/backend/internal/domain"
)

func TestStripHTML(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "简单标签", input: "<p>Hello <b>World</b></p>", expected: "Hello World"},
		{name: "块级元素换行", input: "<div>one</div><div>two<br>three</div>", expected: "one\ntwo\nthree"},
		{name: "解码实体", input: "<p>Tom &amp; Jerry &lt;3</p>", expected: "Tom & Jerry <3"},
		{name: "丢弃脚本和样式", input: "<style>p{}</style><p>text</p><script>alert(1)</script>", expected: "text"},
		{name: "纯文本", input: "no tags here", expected: "no tags here"},
		{name: "空字符串", input: "", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, StripHTML(tc.input))
		})
	}
}

func TestNormalizeBody(t *testing.T) {
	testCases := []struct {
		name         string
		msg          domain.Message
		override     string
		expectedBody string
		expectedText string
	}{
		{
			name:         "只有HTML",
			msg:          domain.Message{BodyHTML: "<p>Hi <i>there</i></p>"},
			expectedBody: "<p>Hi <i>there</i></p>",
			expectedText: "Hi there",
		},
		{
			name:         "只有纯文本",
			msg:          domain.Message{BodyText: "plain"},
			expectedBody: "plain",
			expectedText: "plain",
		},
		{
			name:         "HTML优先于纯文本",
			msg:          domain.Message{BodyHTML: "<b>x</b>", BodyText: "y"},
			expectedBody: "<b>x</b>",
			expectedText: "y",
		},
		{
			name:         "保留已有正文",
			msg:          domain.Message{Body: "given", BodyHTML: "<b>x</b>"},
			expectedBody: "given",
			expectedText: "x",
		},
		{
			name:         "override最优先",
			msg:          domain.Message{Body: "given", BodyHTML: "<b>x</b>"},
			override:     "override",
			expectedBody: "override",
			expectedText: "x",
		},
		{
			name:         "全部为空时使用占位",
			msg:          domain.Message{},
			expectedBody: EmptyBodyPlaceholder,
			expectedText: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.msg
			NormalizeBody(&msg, tc.override)
			assert.Equal(t, tc.expectedBody, msg.Body)
			assert.Equal(t, tc.expectedText, msg.BodyText)
		})
	}
}

func TestNewMessageID(t *testing.T) {
	a := NewMessageID("temp.mail")
	b := NewMessageID("temp.mail")

	assert.True(t, strings.HasSuffix(a, "@temp.mail"))
	assert.NotEqual(t, a, b)
}
