package lyrics

import (
	"regexp"
	"strings"
	"sync"

	"github.com/liuzl/gocc"
	"golang.org/x/text/width"
)

var (
	bookTitleRe = regexp.MustCompile(`《([^》]+)》`)
	bracketRe   = regexp.MustCompile(`【[^】]*】|\[[^\]]*\]|\([^)]*\)|（[^）]*）|「[^」]*」`)
	separatorRe = regexp.MustCompile(`\s*[|｜/]\s*`)
	spacesRe    = regexp.MustCompile(`\s+`)
)

var (
	t2sOnce sync.Once
	t2s     *gocc.OpenCC
)

// toSimplified 繁体转简体，词典不可用时原样返回
func toSimplified(text string) string {
	t2sOnce.Do(func() {
		converter, err := gocc.New("t2s")
		if err != nil {
			logger().Warn().Err(err).Msg("OpenCC t2s converter unavailable, names will not be simplified")
			return
		}
		t2s = converter
	})
	if t2s == nil {
		return text
	}
	out, err := t2s.Convert(text)
	if err != nil {
		logger().Warn().Err(err).Str("text", text).Msg("Failed to convert to simplified Chinese")
		return text
	}
	return out
}

// NormalizeName 全角转半角、繁体转简体、合并空白
func NormalizeName(name string) string {
	name = width.Fold.String(name)
	name = toSimplified(name)
	return strings.TrimSpace(spacesRe.ReplaceAllString(name, " "))
}

// ExtractSongName 从视频标题中提取歌名：优先《》内的内容，否则去掉各种括号标注后取第一段
func ExtractSongName(title string) string {
	title = NormalizeName(title)
	if m := bookTitleRe.FindStringSubmatch(title); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}

	stripped := strings.TrimSpace(bracketRe.ReplaceAllString(title, " "))
	for _, part := range separatorRe.Split(stripped, -1) {
		if part = strings.TrimSpace(part); part != "" {
			return spacesRe.ReplaceAllString(part, " ")
		}
	}
	return title
}
