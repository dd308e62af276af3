package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/fetch"
	"nox-backend/pkg/media"
)

const (
	DefaultAPIBase = "https://api.bilibili.com"
	Referer        = "https://www.bilibili.com/"

	// musicZone 音乐分区
	musicZone = "3"
)

var (
	bvidRe     = regexp.MustCompile(`\b(BV[0-9A-Za-z]{10})\b`)
	avidRe     = regexp.MustCompile(`\bav(\d+)\b`)
	idTokenRe  = regexp.MustCompile(`^(BV[0-9A-Za-z]{10}|av\d+)$`)
	pageRe     = regexp.MustCompile(`[?&]p=(\d+)`)
	videoURLRe = regexp.MustCompile(`(?i)^(https?://)?(www\.|m\.)?bilibili\.com/video/`)
	shortURLRe = regexp.MustCompile(`(?i)^(https?://)?b23\.tv/\S+`)
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "bilibili").Logger()
	return &l
}

// IsDirect 输入是否为可直接解析的B站链接，或整个输入就是一个BV/av号
func IsDirect(input string) bool {
	input = strings.TrimSpace(input)
	return videoURLRe.MatchString(input) || shortURLRe.MatchString(input) || idTokenRe.MatchString(input)
}

// searchResponse 搜索API响应
type searchResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Result []struct {
			BVID     string `json:"bvid"`
			Title    string `json:"title"`
			Author   string `json:"author"`
			Mid      int64  `json:"mid"`
			Pic      string `json:"pic"`
			Duration string `json:"duration"`
		} `json:"result"`
	} `json:"data"`
}

// viewResponse 视频详情API响应
type viewResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		BVID  string `json:"bvid"`
		Title string `json:"title"`
		Pic   string `json:"pic"`
		Owner struct {
			Mid  int64  `json:"mid"`
			Name string `json:"name"`
		} `json:"owner"`
		Pages []struct {
			CID      int64  `json:"cid"`
			Page     int    `json:"page"`
			Part     string `json:"part"`
			Duration int    `json:"duration"`
		} `json:"pages"`
	} `json:"data"`
}

// playURLResponse 播放地址API响应
type playURLResponse struct {
	Code int `json:"code"`
	Data struct {
		Durl []struct {
			URL string `json:"url"`
		} `json:"durl"`
		Dash struct {
			Audio []struct {
				BaseURL   string `json:"baseUrl"`
				Bandwidth int    `json:"bandwidth"`
				Codecs    string `json:"codecs"`
			} `json:"audio"`
		} `json:"dash"`
	} `json:"data"`
}

// Client B站解析器
type Client struct {
	http    *fetch.Client
	apiBase string
	cookie  string

	// expandShortURL 解析 b23.tv 短链，测试中可替换
	expandShortURL func(ctx context.Context, link string) (string, error)
}

// NewClient 创建B站客户端
func NewClient() *Client {
	c := &Client{
		http:    fetch.NewClient(10*time.Second, 2),
		apiBase: DefaultAPIBase,
		cookie:  os.Getenv("BILIBILI_COOKIE"),
	}
	c.expandShortURL = c.followRedirect
	return c
}

// Source 实现 media.Resolver
func (c *Client) Source() media.Source {
	return media.SourceBilibili
}

// ResolveSearch URL或BV号直接解析，否则按关键词搜索
func (c *Client) ResolveSearch(ctx context.Context, input string, opts media.SearchOptions) ([]media.Song, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	if IsDirect(input) {
		return c.resolveURL(ctx, input)
	}
	return c.search(ctx, input, opts)
}

func (c *Client) headers() []fetch.RequestOption {
	return []fetch.RequestOption{
		fetch.WithHeader("Referer", Referer),
		fetch.WithHeader("Cookie", c.cookie),
	}
}

func (c *Client) search(ctx context.Context, keyword string, opts media.SearchOptions) ([]media.Song, error) {
	params := url.Values{}
	params.Set("search_type", "video")
	params.Set("keyword", keyword)
	params.Set("page", "1")
	if opts.UseTagFilter {
		params.Set("tids", musicZone)
	}

	body, err := c.http.Get(ctx, c.apiBase+"/x/web-interface/search/type?"+params.Encode(), c.headers()...)
	if err != nil {
		return nil, fmt.Errorf("bilibili search failed: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: bilibili search json: %v", media.ErrParse, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: bilibili search returned code %d: %s", media.ErrNetwork, resp.Code, resp.Message)
	}

	logger().Info().Str("keyword", keyword).Int("hits", len(resp.Data.Result)).Bool("fast", opts.FastMode).Msg("Search finished")

	var songs []media.Song
	total := len(resp.Data.Result)
	for i, item := range resp.Data.Result {
		if opts.FastMode {
			songs = append(songs, media.Normalize(media.Descriptor{
				ID:            item.BVID,
				Title:         item.Title,
				Author:        item.Author,
				AuthorID:      strconv.FormatInt(item.Mid, 10),
				Thumbnails:    []string{item.Pic},
				DurationText:  item.Duration,
				Album:         item.BVID,
				DeferMetadata: true,
			}, media.SourceBilibili))
			continue
		}

		pages, err := c.view(ctx, "bvid", item.BVID)
		media.ReportProgress(ctx, float64(i+1)/float64(total))
		if err != nil {
			logger().Warn().Err(err).Str("bvid", item.BVID).Msg("Failed to expand video pages, skipping")
			continue
		}
		songs = append(songs, pages...)
	}
	return songs, nil
}

func (c *Client) resolveURL(ctx context.Context, link string) ([]media.Song, error) {
	if shortURLRe.MatchString(link) {
		expanded, err := c.expandShortURL(ctx, link)
		if err != nil {
			return nil, fmt.Errorf("failed to expand short link %s: %w", link, err)
		}
		logger().Debug().Str("short", link).Str("expanded", expanded).Msg("Expanded short link")
		link = expanded
	}

	page := 0
	if m := pageRe.FindStringSubmatch(link); len(m) == 2 {
		page, _ = strconv.Atoi(m[1])
	}

	var songs []media.Song
	var err error
	if m := bvidRe.FindStringSubmatch(link); len(m) == 2 {
		songs, err = c.view(ctx, "bvid", m[1])
	} else if m := avidRe.FindStringSubmatch(link); len(m) == 2 {
		songs, err = c.view(ctx, "aid", m[1])
	} else {
		return nil, fmt.Errorf("%w: no bvid in %s", media.ErrNotFound, link)
	}
	if err != nil {
		return nil, err
	}

	if page > 0 && page <= len(songs) {
		return []media.Song{songs[page-1]}, nil
	}
	return songs, nil
}

// view 获取视频详情，每个分P一首歌
func (c *Client) view(ctx context.Context, key, id string) ([]media.Song, error) {
	body, err := c.http.Get(ctx, fmt.Sprintf("%s/x/web-interface/view?%s=%s", c.apiBase, key, url.QueryEscape(id)), c.headers()...)
	if err != nil {
		return nil, fmt.Errorf("bilibili view failed: %w", err)
	}

	var resp viewResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: bilibili view json: %v", media.ErrParse, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: bilibili view returned code %d: %s", media.ErrNotFound, resp.Code, resp.Message)
	}
	if len(resp.Data.Pages) == 0 {
		return nil, fmt.Errorf("%w: no video pages for %s", media.ErrNotFound, id)
	}

	single := len(resp.Data.Pages) == 1
	songs := make([]media.Song, 0, len(resp.Data.Pages))
	for i, p := range resp.Data.Pages {
		part := p.Part
		if single {
			part = ""
		}
		pageNo := p.Page
		if pageNo == 0 {
			pageNo = i + 1
		}
		songs = append(songs, media.Normalize(media.Descriptor{
			ID:              resp.Data.BVID,
			SubID:           strconv.FormatInt(p.CID, 10),
			Title:           resp.Data.Title,
			Part:            part,
			Author:          resp.Data.Owner.Name,
			AuthorID:        strconv.FormatInt(resp.Data.Owner.Mid, 10),
			Thumbnails:      []string{resp.Data.Pic},
			DurationSeconds: p.Duration,
			Album:           resp.Data.Title,
			Page:            pageNo,
		}, media.SourceBilibili))
	}
	return songs, nil
}

// ResolveStream 获取音频流，取带宽最高的dash音轨
func (c *Client) ResolveStream(ctx context.Context, song media.Song) (*media.StreamCandidate, error) {
	if song.Source != media.SourceBilibili {
		return nil, errors.New("source mismatch")
	}
	cid := song.CID
	if song.MetadataOnLoad || !isNumeric(cid) {
		pages, err := c.view(ctx, "bvid", song.BVID)
		if err != nil {
			return nil, err
		}
		idx := song.Page - 1
		if idx < 0 || idx >= len(pages) {
			idx = 0
		}
		cid = pages[idx].CID
	}

	apiURL := fmt.Sprintf("%s/x/player/playurl?fnval=16&bvid=%s&cid=%s", c.apiBase, url.QueryEscape(song.BVID), cid)
	body, err := c.http.Get(ctx, apiURL, c.headers()...)
	if err != nil {
		return nil, fmt.Errorf("bilibili playurl failed: %w", err)
	}

	var resp playURLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: bilibili playurl json: %v", media.ErrParse, err)
	}

	var best *media.StreamCandidate
	for _, a := range resp.Data.Dash.Audio {
		if best == nil || a.Bandwidth > best.Bitrate {
			best = &media.StreamCandidate{Bitrate: a.Bandwidth, URL: a.BaseURL, Codec: a.Codecs}
		}
	}
	if best != nil {
		return best, nil
	}
	if len(resp.Data.Durl) > 0 {
		return &media.StreamCandidate{URL: resp.Data.Durl[0].URL}, nil
	}
	return nil, fmt.Errorf("%w: no audio stream for %s", media.ErrNotFound, song.BVID)
}

// followRedirect 跟随短链重定向，返回最终地址
func (c *Client) followRedirect(ctx context.Context, link string) (string, error) {
	if !strings.HasPrefix(link, "http") {
		link = "https://" + link
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", fetch.DefaultUserAgent)
	resp, err := c.http.HTTPClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", media.ErrNetwork, err)
	}
	defer resp.Body.Close()
	return resp.Request.URL.String(), nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
