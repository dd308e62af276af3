package media

import (
	"fmt"
	"strings"
)

// Source 媒体来源
type Source string

const (
	// SourceBilibili 哔哩哔哩
	SourceBilibili Source = "bilibili"
	// SourceYoutube YouTube音频（muse）
	SourceYoutube Source = "ytbvideo"
	// SourceLocal 本地文件
	SourceLocal Source = "local"
	// SourceMusicFree MusicFree聚合源
	SourceMusicFree Source = "musicfree"
)

// Sources 返回所有支持的来源
func Sources() []Source {
	return []Source{SourceBilibili, SourceYoutube, SourceLocal, SourceMusicFree}
}

// ParseSource 根据名称获取来源
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bilibili", "bili", "b站":
		return SourceBilibili, nil
	case "ytbvideo", "youtube", "ytb", "muse":
		return SourceYoutube, nil
	case "local", "本地":
		return SourceLocal, nil
	case "musicfree", "aggregated":
		return SourceMusicFree, nil
	default:
		return "", fmt.Errorf("unknown source: %s", name)
	}
}

// Song 统一的歌曲结构
type Song struct {
	ID             string `json:"id"`
	CID            string `json:"cid"`
	BVID           string `json:"bvid"`
	Name           string `json:"name"`
	NameRaw        string `json:"nameRaw"`
	Singer         string `json:"singer"`
	SingerID       string `json:"singerId"`
	Cover          string `json:"cover"`
	Lyric          string `json:"lyric"`
	Duration       int    `json:"duration"` // 秒
	Album          string `json:"album"`
	Source         Source `json:"source"`
	Page           int    `json:"page"`
	MetadataOnLoad bool   `json:"metadataOnLoad"`
}

// Key 会话内唯一标识（source + cid）
func (s Song) Key() string {
	return string(s.Source) + "|" + s.CID
}

// Display 用于日志打印
func (s Song) Display() string {
	if s.Singer == "" {
		return s.Name
	}
	return s.Name + " - " + s.Singer
}

// SearchResultPlaylist 搜索结果临时歌单，不持久化
type SearchResultPlaylist struct {
	Title        string   `json:"title"`
	SongList     []Song   `json:"songList"`
	SubscribeURL []string `json:"subscribeUrl"`
}

// StreamCandidate 单曲解析出的播放流
type StreamCandidate struct {
	Bitrate           int     `json:"bitrate"`
	URL               string  `json:"url"`
	Codec             string  `json:"codec,omitempty"`
	Loudness          float64 `json:"loudness"`
	PerceivedLoudness float64 `json:"perceivedLoudness"`
}
