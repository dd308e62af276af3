package lrclib

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/fetch"
	"nox-backend/pkg/media"
)

// DefaultBaseURL LRCLib API 地址
const DefaultBaseURL = "https://lrclib.net/api"

// maxDurationDiff 时长误差在此范围内视为同一版本（秒）
const maxDurationDiff = 3

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "lrclib").Logger()
	return &l
}

// Track LRCLib 搜索结果中的一条
type Track struct {
	ID           int    `json:"id"`
	TrackName    string `json:"trackName"`
	ArtistName   string `json:"artistName"`
	AlbumName    string `json:"albumName"`
	Duration     int    `json:"duration"`
	Instrumental bool   `json:"instrumental"`
	PlainLyrics  string `json:"plainLyrics"`
	SyncedLyrics string `json:"syncedLyrics"`
}

// Lyrics 优先同步歌词
func (t Track) Lyrics() string {
	if t.SyncedLyrics != "" {
		return t.SyncedLyrics
	}
	return t.PlainLyrics
}

// Client LRCLib客户端
type Client struct {
	http    *fetch.Client
	baseURL string
}

// NewClient baseURL 为空时使用默认地址
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    fetch.NewClient(5*time.Second, 3),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *Client) GetProviderName() string {
	return "LRCLib"
}

// SearchSong LRCLib 按歌名和歌手直接查询，ID 即为 "title|artist"
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	return title + "|" + artist, nil
}

func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	title, artist, ok := strings.Cut(songID, "|")
	if !ok {
		return "", fmt.Errorf("invalid song ID format: %s", songID)
	}
	return c.GetLyricsByInfo(ctx, title, artist, 0)
}

// GetLyricsByInfo 搜索后按歌名、歌手和时长挑选最接近的一条
func (c *Client) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	tracks, err := c.Search(ctx, title, artist)
	if err != nil {
		return "", err
	}
	logger().Info().Int("count", len(tracks)).Str("title", title).Str("artist", artist).Msg("Found results")

	best, ok := BestMatch(tracks, title, artist, int(duration))
	if !ok {
		return "", fmt.Errorf("no lyrics found for '%s - %s': %w", title, artist, media.ErrNotFound)
	}
	logger().Info().
		Int("id", best.ID).
		Str("track", best.TrackName).
		Str("artist", best.ArtistName).
		Int("duration", best.Duration).
		Bool("synced", best.SyncedLyrics != "").
		Msg("Selected lyrics")
	return best.Lyrics(), nil
}

// Search 调用 /search，时长不作为参数而是在结果中筛选
func (c *Client) Search(ctx context.Context, title, artist string) ([]Track, error) {
	params := url.Values{}
	params.Set("track_name", title)
	params.Set("artist_name", artist)

	body, err := c.http.Get(ctx, c.baseURL+"/search?"+params.Encode(), fetch.WithHeader("User-Agent", "nox-backend/1.0"))
	if err != nil {
		return nil, err
	}
	var tracks []Track
	if err := json.Unmarshal(body, &tracks); err != nil {
		return nil, fmt.Errorf("%w: failed to decode lrclib response: %v", media.ErrParse, err)
	}
	return tracks, nil
}

// matchTier 2: 歌名和歌手都包含，1: 只有歌名包含，0: 都不包含
func matchTier(t Track, title, artist string) int {
	if !containsFold(t.TrackName, title) {
		return 0
	}
	if containsFold(t.ArtistName, artist) {
		return 2
	}
	return 1
}

// BestMatch 在最高匹配档中挑选：有目标时长时取误差最小的（误差不超过 3 秒的第一条直接命中），否则取第一条
func BestMatch(tracks []Track, title, artist string, duration int) (Track, bool) {
	bestTier := -1
	var pool []Track
	for _, t := range tracks {
		if t.Lyrics() == "" {
			continue
		}
		switch tier := matchTier(t, title, artist); {
		case tier > bestTier:
			bestTier, pool = tier, []Track{t}
		case tier == bestTier:
			pool = append(pool, t)
		}
	}
	if len(pool) == 0 {
		return Track{}, false
	}
	if duration <= 0 {
		return pool[0], true
	}

	best, minDiff := pool[0], abs(pool[0].Duration-duration)
	for _, t := range pool {
		diff := abs(t.Duration - duration)
		if diff <= maxDurationDiff {
			return t, true
		}
		if diff < minDiff {
			best, minDiff = t, diff
		}
	}
	logger().Debug().Int("diff", minDiff).Msg("No duration match within threshold, using closest")
	return best, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
