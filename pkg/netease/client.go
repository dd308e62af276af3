package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultAPIBase        = "https://music.163.com"
	defaultMaxRetries     = 3
	defaultRequestTimeout = 10 * time.Second
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "netease").Logger()
	return &l
}

var lyricLineRe = regexp.MustCompile(`\[(\d{2}:\d{2}\.\d{2,3})\](.*)`)

// NeteaseSearchResponse 网易云搜索API响应
type NeteaseSearchResponse struct {
	Result struct {
		Songs []struct {
			ID      int    `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				ID   int    `json:"id"`
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				ID     int    `json:"id"`
				Name   string `json:"name"`
				PicURL string `json:"picUrl"`
			} `json:"album"`
			Duration int64 `json:"duration"` // 毫秒
		} `json:"songs"`
	} `json:"result"`
}

// NeteaseLyricResponse 网易云歌词API响应
type NeteaseLyricResponse struct {
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
	Tlyric struct {
		Lyric string `json:"lyric"`
	} `json:"tlyric"`
}

// Song 搜索结果中的一首歌
type Song struct {
	ID         string
	Name       string
	Artist     string
	ArtistID   string
	Album      string
	Cover      string
	DurationMs int64
}

// Client 网易云音乐客户端
type Client struct {
	httpClient     *http.Client
	cookie         string
	apiBase        string
	maxRetries     int
	requestTimeout time.Duration
}

// NewClient 创建新的网易云音乐客户端
func NewClient() *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: defaultRequestTimeout},
		cookie:         os.Getenv("NETEASE_COOKIE"),
		apiBase:        defaultAPIBase,
		maxRetries:     defaultMaxRetries,
		requestTimeout: defaultRequestTimeout,
	}
}

// GetProviderName 获取提供商名称
func (c *Client) GetProviderName() string {
	return "NetEase Cloud Music"
}

func (c *Client) base() string {
	if c.apiBase == "" {
		return defaultAPIBase
	}
	return c.apiBase
}

// SearchSong 搜索歌曲
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	searchResp, err := c.search(ctx, title, 100)
	if err != nil {
		return "", err
	}

	if len(searchResp.Result.Songs) == 0 {
		return "", fmt.Errorf("no songs found for '%s'", title)
	}

	songID := c.findBestMatch(*searchResp, artist, title)
	if songID == 0 {
		return "", fmt.Errorf("no matching song found for '%s' by '%s'", title, artist)
	}

	return strconv.Itoa(songID), nil
}

// SearchSongs 关键词搜索，返回按网易云排序的歌曲列表
func (c *Client) SearchSongs(ctx context.Context, keyword string, limit int) ([]Song, error) {
	if limit <= 0 {
		limit = 30
	}
	searchResp, err := c.search(ctx, keyword, limit)
	if err != nil {
		return nil, err
	}

	songs := make([]Song, 0, len(searchResp.Result.Songs))
	for _, s := range searchResp.Result.Songs {
		song := Song{
			ID:         strconv.Itoa(s.ID),
			Name:       s.Name,
			Album:      s.Album.Name,
			Cover:      s.Album.PicURL,
			DurationMs: s.Duration,
		}
		names := make([]string, 0, len(s.Artists))
		for _, a := range s.Artists {
			names = append(names, a.Name)
		}
		song.Artist = strings.Join(names, ", ")
		if len(s.Artists) > 0 {
			song.ArtistID = strconv.Itoa(s.Artists[0].ID)
		}
		songs = append(songs, song)
	}
	return songs, nil
}

// SongURL 外链播放地址
func (c *Client) SongURL(songID string) string {
	return fmt.Sprintf("%s/song/media/outer/url?id=%s.mp3", c.base(), url.QueryEscape(songID))
}

func (c *Client) search(ctx context.Context, keyword string, limit int) (*NeteaseSearchResponse, error) {
	searchURL := fmt.Sprintf("%s/api/search/get/web?csrf_token=hlpretag&hlposttag=&s=%s&type=1&limit=%d",
		c.base(), url.QueryEscape(keyword), limit)
	logger().Info().Str("url", searchURL).Msg("Searching for song")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API request failed with status %d", resp.StatusCode)
	}

	var searchResp NeteaseSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &searchResp, nil
}

// GetLyrics 获取歌词，有翻译时按时间戳合并
func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	lyricURL := fmt.Sprintf("%s/api/song/lyric?os=pc&id=%s&lv=-1&kv=-1&tv=-1", c.base(), url.QueryEscape(songID))
	logger().Info().Str("url", lyricURL).Msg("Fetching lyrics")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lyricURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create lyric request: %w", err)
	}

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return "", fmt.Errorf("failed to send lyric request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lyric API request failed with status %d", resp.StatusCode)
	}

	var lyricResp NeteaseLyricResponse
	if err := json.NewDecoder(resp.Body).Decode(&lyricResp); err != nil {
		return "", fmt.Errorf("failed to decode lyric response: %w", err)
	}

	if strings.TrimSpace(lyricResp.Lrc.Lyric) == "" {
		return "", fmt.Errorf("song %s has no lyrics", songID)
	}
	if strings.TrimSpace(lyricResp.Tlyric.Lyric) != "" {
		return c.combineLyrics(lyricResp.Lrc.Lyric, lyricResp.Tlyric.Lyric), nil
	}
	return lyricResp.Lrc.Lyric, nil
}

// doRequestWithRetry 5xx 和网络错误时线性退避重试
func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	attempts := c.maxRetries
	if attempts <= 0 {
		attempts = 1
	}
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.requestTimeout}
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= http.StatusInternalServerError:
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if attempt == attempts {
			break
		}
		logger().Warn().Err(lastErr).Int("attempt", attempt).Msg("Request failed, retrying")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

// findBestMatch 找到最佳匹配的歌曲
func (c *Client) findBestMatch(resp NeteaseSearchResponse, targetArtist, targetTitle string) int {
	for _, song := range resp.Result.Songs {
		// 判断歌曲名包含关系
		if !containsIgnoreCase(song.Name, targetTitle) {
			continue
		}

		// artists 可能有多个，只要一个满足就算
		for _, artist := range song.Artists {
			if containsIgnoreCase(artist.Name, targetArtist) {
				logger().Info().Str("name", song.Name).Str("artist", artist.Name).Int("id", song.ID).Msg("Found matching song")
				return song.ID
			}
		}
	}

	// 没有完全匹配时，返回第一个匹配标题的
	if len(resp.Result.Songs) > 0 && containsIgnoreCase(resp.Result.Songs[0].Name, targetTitle) {
		first := resp.Result.Songs[0]
		logger().Info().Str("name", first.Name).Int("id", first.ID).Msg("Using first matching song")
		return first.ID
	}

	return 0
}

// combineLyrics 合并原文和翻译歌词
func (c *Client) combineLyrics(originalLyrics, translatedLyrics string) string {
	originalLines := parseLyrics(originalLyrics)
	translatedLines := parseLyrics(translatedLyrics)

	var timestamps []string
	for t := range originalLines {
		timestamps = append(timestamps, t)
	}
	sort.Strings(timestamps)

	var combinedLyrics strings.Builder
	for _, t := range timestamps {
		fmt.Fprintf(&combinedLyrics, "[%s]%s\n", t, originalLines[t])
		if translated, ok := translatedLines[t]; ok {
			fmt.Fprintf(&combinedLyrics, "[%s]%s\n", t, translated)
		}
	}

	return strings.TrimSpace(combinedLyrics.String())
}

// parseLyrics 解析歌词，提取时间戳和歌词内容
func parseLyrics(lyricText string) map[string]string {
	lines := make(map[string]string)
	for _, match := range lyricLineRe.FindAllStringSubmatch(lyricText, -1) {
		if text := strings.TrimSpace(match[2]); text != "" {
			lines[match[1]] = text
		}
	}
	return lines
}

// normalizeString 标准化字符串（转小写，去空格）
func normalizeString(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "")
}

// containsIgnoreCase 忽略大小写和空格的包含关系检查
func containsIgnoreCase(s1, s2 string) bool {
	norm1, norm2 := normalizeString(s1), normalizeString(s2)
	return strings.Contains(norm1, norm2) || strings.Contains(norm2, norm1)
}
