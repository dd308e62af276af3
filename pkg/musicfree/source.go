package musicfree

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"nox-backend/pkg/fetch"
	"nox-backend/pkg/media"
	"nox-backend/pkg/netease"
)

// Track 插件返回的单曲
type Track struct {
	ID              string
	Title           string
	Artist          string
	ArtistID        string
	Album           string
	Artwork         string
	DurationSeconds int
	DurationMs      int64
	Lyric           string
}

// DataSource 聚合源背后的一个插件
type DataSource interface {
	Name() string
	Search(ctx context.Context, keyword string) ([]Track, error)
	StreamURL(ctx context.Context, trackID string) (string, error)
}

// PluginConfig HTTP JSON 插件配置
type PluginConfig struct {
	Name      string `toml:"name"`
	SearchURL string `toml:"search_url"` // 包含 {keyword}
	StreamURL string `toml:"stream_url"` // 包含 {id}
}

// HTTPPlugin 以 HTTP JSON 接口实现的插件，返回 MusicFree 风格的 IMusicItem
type HTTPPlugin struct {
	cfg  PluginConfig
	http *fetch.Client
}

// NewHTTPPlugin 创建 HTTP 插件
func NewHTTPPlugin(cfg PluginConfig) (*HTTPPlugin, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("plugin name is required")
	}
	if !strings.Contains(cfg.SearchURL, "{keyword}") {
		return nil, fmt.Errorf("plugin %s: search_url must contain {keyword}", cfg.Name)
	}
	return &HTTPPlugin{cfg: cfg, http: fetch.NewClient(10*time.Second, 1)}, nil
}

func (p *HTTPPlugin) Name() string {
	return p.cfg.Name
}

// Search 结果可以是顶层数组，也可以在 data 字段里
func (p *HTTPPlugin) Search(ctx context.Context, keyword string) ([]Track, error) {
	searchURL := strings.ReplaceAll(p.cfg.SearchURL, "{keyword}", url.QueryEscape(keyword))
	body, err := p.http.Get(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: plugin %s returned invalid json", media.ErrParse, p.cfg.Name)
	}

	root := gjson.ParseBytes(body)
	items := root
	if !root.IsArray() {
		items = root.Get("data")
	}

	var tracks []Track
	items.ForEach(func(_, item gjson.Result) bool {
		t := Track{
			ID:       item.Get("id").String(),
			Title:    item.Get("title").String(),
			Artist:   item.Get("artist").String(),
			ArtistID: item.Get("artistId").String(),
			Album:    item.Get("album").String(),
			Artwork:  item.Get("artwork").String(),
			Lyric:    item.Get("rawLrc").String(),
		}
		if d := item.Get("duration"); d.Exists() {
			t.DurationSeconds = int(d.Float())
		}
		if t.ID != "" {
			tracks = append(tracks, t)
		}
		return true
	})
	return tracks, nil
}

// StreamURL 响应中的 url 字段
func (p *HTTPPlugin) StreamURL(ctx context.Context, trackID string) (string, error) {
	if p.cfg.StreamURL == "" {
		return "", fmt.Errorf("plugin %s has no stream_url: %w", p.cfg.Name, media.ErrUnsupported)
	}
	streamURL := strings.ReplaceAll(p.cfg.StreamURL, "{id}", url.QueryEscape(trackID))
	body, err := p.http.Get(ctx, streamURL)
	if err != nil {
		return "", err
	}
	u := gjson.GetBytes(body, "url").String()
	if u == "" {
		return "", fmt.Errorf("%w: plugin %s has no stream for %s", media.ErrNotFound, p.cfg.Name, trackID)
	}
	return u, nil
}

// NeteaseSource 把网易云搜索包装成插件
type NeteaseSource struct {
	client *netease.Client
	limit  int
}

// NewNeteaseSource 创建网易云插件
func NewNeteaseSource(client *netease.Client) *NeteaseSource {
	return &NeteaseSource{client: client, limit: 30}
}

func (n *NeteaseSource) Name() string {
	return "netease"
}

func (n *NeteaseSource) Search(ctx context.Context, keyword string) ([]Track, error) {
	songs, err := n.client.SearchSongs(ctx, keyword, n.limit)
	if err != nil {
		return nil, err
	}
	tracks := make([]Track, 0, len(songs))
	for _, s := range songs {
		tracks = append(tracks, Track{
			ID:         s.ID,
			Title:      s.Name,
			Artist:     s.Artist,
			ArtistID:   s.ArtistID,
			Album:      s.Album,
			Artwork:    s.Cover,
			DurationMs: s.DurationMs,
		})
	}
	return tracks, nil
}

func (n *NeteaseSource) StreamURL(_ context.Context, trackID string) (string, error) {
	return n.client.SongURL(trackID), nil
}
