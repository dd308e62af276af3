package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Descriptor 各后端原始媒体描述的中立形态，由解析器填充后交给 Normalize
type Descriptor struct {
	ID              string   // 来源原生ID（bvid、YouTube视频ID、相对路径…）
	SubID           string   // 分P的cid等子ID
	Title           string
	Part            string // 分P标题
	Author          string
	AuthorID        string
	Thumbnails      []string // 按尺寸从小到大
	DurationSeconds int
	DurationMs      int64
	DurationText    string // "mm:ss" 或 "h:mm:ss"
	Album           string
	Page            int
	Lyric           string
	DeferMetadata   bool // 播放前需要二次解析元数据
}

var highlightTag = regexp.MustCompile(`</?em[^>]*>`)

// Normalize 把原始描述转换成 Song，不做 I/O，不会 panic
func Normalize(d Descriptor, source Source) Song {
	nameRaw := strings.TrimSpace(d.Title)
	name := cleanTitle(nameRaw)
	if part := cleanTitle(d.Part); part != "" && part != name {
		if name == "" {
			name = part
		} else {
			name = fmt.Sprintf("%s - %s", name, part)
		}
	}

	page := d.Page
	if page <= 0 {
		page = 1
	}

	cid := string(source) + "-" + d.ID
	if d.SubID != "" {
		cid = d.SubID
	}

	return Song{
		ID:             fmt.Sprintf("%s-%s-%d", source, d.ID, page),
		CID:            cid,
		BVID:           d.ID,
		Name:           name,
		NameRaw:        nameRaw,
		Singer:         strings.TrimSpace(d.Author),
		SingerID:       d.AuthorID,
		Cover:          pickCover(d.Thumbnails),
		Lyric:          d.Lyric,
		Duration:       pickDuration(d),
		Album:          strings.TrimSpace(d.Album),
		Source:         source,
		Page:           page,
		MetadataOnLoad: d.DeferMetadata || source == SourceYoutube,
	}
}

func cleanTitle(s string) string {
	return strings.TrimSpace(highlightTag.ReplaceAllString(s, ""))
}

func pickCover(thumbs []string) string {
	for i := len(thumbs) - 1; i >= 0; i-- {
		cover := strings.TrimSpace(thumbs[i])
		if cover == "" {
			continue
		}
		if strings.HasPrefix(cover, "//") {
			cover = "https:" + cover
		}
		return cover
	}
	return ""
}

func pickDuration(d Descriptor) int {
	switch {
	case d.DurationSeconds > 0:
		return d.DurationSeconds
	case d.DurationMs > 0:
		return int(d.DurationMs / 1000)
	case d.DurationText != "":
		return ParseDurationText(d.DurationText)
	}
	return 0
}

// ParseDurationText 解析 "mm:ss" / "h:mm:ss"，失败返回0
func ParseDurationText(text string) int {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
