package qqmusic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"nox-backend/pkg/fetch"
	"nox-backend/pkg/media"
)

const (
	DefaultSearchURL = "https://u.y.qq.com/cgi-bin/musicu.fcg"
	DefaultLyricURL  = "https://i.y.qq.com/lyric/fcgi-bin/fcg_query_lyric_new.fcg?songmid={SongMid}&g_tk=5381&format=json&inCharset=utf8&outCharset=utf-8&nobase64=1"

	referer = "https://y.qq.com/"
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "qqmusic").Logger()
	return &l
}

// ErrEmptyKey 搜索关键词为空
var ErrEmptyKey = errors.New("search key is required")

// Comm 请求公共参数
type Comm struct {
	CT  string `json:"ct"`
	CV  string `json:"cv"`
	UIN string `json:"uin"`
}

// SearchParam 搜索参数，固定第一页10条
type SearchParam struct {
	Grp        int    `json:"grp"`
	NumPerPage int    `json:"num_per_page"`
	PageNum    int    `json:"page_num"`
	Query      string `json:"query"`
	SearchType int    `json:"search_type"`
}

// SearchReq 搜索模块调用
type SearchReq struct {
	Method string      `json:"method"`
	Module string      `json:"module"`
	Param  SearchParam `json:"param"`
}

// SearchRequest musicu.fcg 搜索请求体
type SearchRequest struct {
	Comm Comm      `json:"comm"`
	Req  SearchReq `json:"req"`
}

// NewSearchRequest 每次调用都返回新的请求体
func NewSearchRequest(query string) SearchRequest {
	return SearchRequest{
		Comm: Comm{CT: "19", CV: "1859", UIN: "0"},
		Req: SearchReq{
			Method: "DoSearchForQQMusicDesktop",
			Module: "music.search.SearchCgiService",
			Param: SearchParam{
				Grp:        1,
				NumPerPage: 10,
				PageNum:    1,
				Query:      query,
				SearchType: 0,
			},
		},
	}
}

// SearchResult 搜索结果中的一首歌
type SearchResult struct {
	Mid      string `json:"mid"`
	Name     string `json:"name"`
	Singer   string `json:"singer"`
	Album    string `json:"album"`
	Interval int    `json:"interval"` // 秒
}

// Lyric 歌词接口返回
type Lyric struct {
	Lyric string `json:"lyric"`
	Trans string `json:"trans"`
}

// Merged 有翻译时翻译在前，以换行分隔
func (l Lyric) Merged() string {
	if l.Trans == "" {
		return l.Lyric
	}
	return l.Trans + "\n" + l.Lyric
}

// Option 客户端选项
type Option func(*Client)

// WithSearchURL 覆盖搜索地址
func WithSearchURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.searchURL = u
		}
	}
}

// WithLyricURL 覆盖歌词地址模板，需包含 {SongMid}
func WithLyricURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.lyricURL = u
		}
	}
}

// Client QQ音乐客户端
type Client struct {
	http      *fetch.Client
	cookie    string
	searchURL string
	lyricURL  string
}

// NewClient 创建新的QQ音乐客户端
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:      fetch.NewClient(10*time.Second, 2),
		cookie:    os.Getenv("QQMUSIC_COOKIE"),
		searchURL: DefaultSearchURL,
		lyricURL:  DefaultLyricURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetProviderName 获取提供商名称
func (c *Client) GetProviderName() string {
	return "QQ Music"
}

// Search 关键词搜索
func (c *Client) Search(ctx context.Context, key string) ([]SearchResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	logger().Info().Str("key", key).Msg("Searching lyric options")

	payload, err := json.Marshal(NewSearchRequest(key))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	body, err := c.http.Post(ctx, c.searchURL, bytes.NewReader(payload),
		fetch.WithHeader("Content-Type", "application/json"),
		fetch.WithHeader("Referer", referer),
		fetch.WithHeader("Cookie", c.cookie))
	if err != nil {
		return nil, fmt.Errorf("qq search request failed: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: qq search returned invalid json", media.ErrParse)
	}

	list := gjson.GetBytes(body, "req.data.body.song.list")
	if !list.Exists() {
		return nil, fmt.Errorf("%w: qq search response has no song list", media.ErrParse)
	}

	var results []SearchResult
	list.ForEach(func(_, s gjson.Result) bool {
		results = append(results, SearchResult{
			Mid:      s.Get("mid").String(),
			Name:     s.Get("name").String(),
			Singer:   s.Get("singer.0.name").String(),
			Album:    s.Get("album.name").String(),
			Interval: int(s.Get("interval").Int()),
		})
		return true
	})
	logger().Debug().Int("count", len(results)).Msg("QQ search finished")
	return results, nil
}

// Lyric 按 songmid 获取歌词，lyric 字段缺失时返回空 Lyric
func (c *Client) Lyric(ctx context.Context, songMid string) (Lyric, error) {
	lyricURL := strings.ReplaceAll(c.lyricURL, "{SongMid}", url.QueryEscape(songMid))
	body, err := c.http.Get(ctx, lyricURL, fetch.WithHeader("Referer", referer), fetch.WithHeader("Cookie", c.cookie))
	if err != nil {
		return Lyric{}, fmt.Errorf("qq lyric request failed: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Lyric{}, fmt.Errorf("%w: qq lyric returned invalid json", media.ErrParse)
	}
	return Lyric{
		Lyric: html.UnescapeString(gjson.GetBytes(body, "lyric").String()),
		Trans: html.UnescapeString(gjson.GetBytes(body, "trans").String()),
	}, nil
}

// SearchSong 搜索歌曲，返回 songmid
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	results, err := c.Search(ctx, strings.TrimSpace(title+" "+artist))
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no songs found for '%s'", title)
	}

	lowerTitle, lowerArtist := strings.ToLower(title), strings.ToLower(artist)
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.Name), lowerTitle) && strings.Contains(strings.ToLower(r.Singer), lowerArtist) {
			return r.Mid, nil
		}
	}
	return results[0].Mid, nil
}

// GetLyrics 获取歌词
func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	lyric, err := c.Lyric(ctx, songID)
	if err != nil {
		return "", err
	}
	if lyric.Lyric == "" {
		return "", fmt.Errorf("%w: song %s has no lyrics", media.ErrNotFound, songID)
	}
	return lyric.Merged(), nil
}
