package ai

import (
	"context"
	"errors"
	"strings"
)

// AiInterface 文本模型
type AiInterface interface {
	Name() string
	HandleText(ctx context.Context, msg string) (string, error)
}

// StripCodeFence 去掉模型偶尔返回的 markdown 代码块
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// ErrEmptyResponse 模型没有返回内容
var ErrEmptyResponse = errors.New("model returned no content")
