package music

import (
	"context"
)

// MusicAPI 歌词提供商通用接口
type MusicAPI interface {
	// SearchSong 搜索歌曲，返回歌曲ID
	SearchSong(ctx context.Context, title, artist string) (string, error)

	// GetLyrics 根据歌曲ID获取歌词
	GetLyrics(ctx context.Context, songID string) (string, error)

	// GetProviderName 获取提供商名称
	GetProviderName() string
}

// DurationMatcher 可以直接按歌曲信息和时长查询歌词的提供商
type DurationMatcher interface {
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error)
}

// MusicManager 音乐管理器接口（扩展接口，包含组合操作）
type MusicManager interface {
	MusicAPI

	// GetLyricsByInfo 根据歌曲信息直接获取歌词（封装搜索+获取歌词）
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error)

	// Lookup 同 GetLyricsByInfo，同时返回命中的提供商
	Lookup(ctx context.Context, title, artist string, duration float64) (Hit, error)
}

// SongInfo 歌曲信息结构
type SongInfo struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Duration float64 `json:"duration"` // 歌曲时长（秒）
	IsSong   bool    `json:"is_song"`
}
