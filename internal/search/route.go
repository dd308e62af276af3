package search

import (
	"strings"

	"nox-backend/pkg/bilibili"
	"nox-backend/pkg/local"
	"nox-backend/pkg/media"
	"nox-backend/pkg/youtube"
)

// route 直接解析的链接规则
type route struct {
	source media.Source
	match  func(input string) bool
}

// routes 按顺序匹配，命中即强制使用对应来源
var routes = []route{
	{source: media.SourceLocal, match: local.IsDirect},
	{source: media.SourceYoutube, match: youtube.IsDirect},
	{source: media.SourceBilibili, match: bilibili.IsDirect},
}

// Classify 判断输入是否为已知来源的链接，是则返回该来源
func Classify(input string) (media.Source, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	for _, r := range routes {
		if r.match(input) {
			return r.source, true
		}
	}
	return "", false
}

// subscribeURL 输入本身是链接时记录为订阅地址
func subscribeURL(input string) []string {
	if strings.Contains(input, "http") {
		return []string{input}
	}
	return []string{}
}
