package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"nox-backend/pkg/fetch"
	"nox-backend/pkg/media"
)

const (
	DefaultPlayerURL = "https://music.youtube.com/youtubei/v1/player?prettyPrint=false"

	clientName    = "ANDROID_MUSIC"
	clientVersion = "7.27.52"
)

var (
	watchURLRe = regexp.MustCompile(`(?i)^(https?://)?(www\.|m\.|music\.)?youtube\.com/(watch\?\S*v=|shorts/)([A-Za-z0-9_-]{11})`)
	shortURLRe = regexp.MustCompile(`(?i)^(https?://)?youtu\.be/([A-Za-z0-9_-]{11})`)
	videoIDRe  = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "youtube").Logger()
	return &l
}

// IsDirect 输入是否为YouTube视频链接
func IsDirect(input string) bool {
	_, ok := extractID(strings.TrimSpace(input), false)
	return ok
}

// extractID 从链接中提取视频ID，allowBare 时接受裸ID
func extractID(input string, allowBare bool) (string, bool) {
	if m := watchURLRe.FindStringSubmatch(input); m != nil {
		return m[4], true
	}
	if m := shortURLRe.FindStringSubmatch(input); m != nil {
		return m[2], true
	}
	if allowBare && videoIDRe.MatchString(input) {
		return input, true
	}
	return "", false
}

// playerInfo 播放器接口中关心的部分
type playerInfo struct {
	videoID           string
	title             string
	author            string
	channelID         string
	thumbnails        []string
	lengthSeconds     int
	formats           []media.Format
	durationMs        int64
	loudness          float64
	perceivedLoudness float64
}

// Client YouTube音频解析器
type Client struct {
	http      *fetch.Client
	playerURL string
}

// NewClient 创建YouTube客户端
func NewClient() *Client {
	return &Client{
		http:      fetch.NewClient(15*time.Second, 2),
		playerURL: DefaultPlayerURL,
	}
}

// Source 实现 media.Resolver
func (c *Client) Source() media.Source {
	return media.SourceYoutube
}

// ResolveSearch 只接受视频ID或链接，关键词搜索交给聚合源
func (c *Client) ResolveSearch(ctx context.Context, input string, opts media.SearchOptions) ([]media.Song, error) {
	id, ok := extractID(strings.TrimSpace(input), true)
	if !ok {
		return nil, fmt.Errorf("youtube keyword search: %w", media.ErrUnsupported)
	}
	song, err := c.FetchAudioInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	return []media.Song{song}, nil
}

// FetchAudioInfo 获取视频元数据并构造歌曲
func (c *Client) FetchAudioInfo(ctx context.Context, id string) (media.Song, error) {
	info, err := c.player(ctx, id)
	if err != nil {
		return media.Song{}, err
	}
	d := media.Descriptor{
		ID:         id,
		Title:      info.title,
		Author:     info.author,
		AuthorID:   info.channelID,
		Thumbnails: info.thumbnails,
		DurationMs: info.durationMs,
		Album:      info.title,
		Page:       1,
	}
	if d.DurationMs == 0 {
		d.DurationSeconds = info.lengthSeconds
	}
	return media.Normalize(d, media.SourceYoutube), nil
}

// ResolveStream 选取最高码率的 mp4a 音频流并附带响度信息
func (c *Client) ResolveStream(ctx context.Context, song media.Song) (*media.StreamCandidate, error) {
	info, err := c.player(ctx, song.BVID)
	if err != nil {
		return nil, err
	}
	best, ok := media.SelectStream(info.formats)
	if !ok {
		return nil, fmt.Errorf("%w: no playable audio stream for %s", media.ErrNotFound, song.BVID)
	}
	logger().Debug().Str("id", song.BVID).Int("bitrate", best.Bitrate).Str("codecs", best.Codecs).Msg("Selected audio stream")
	return &media.StreamCandidate{
		Bitrate:           best.Bitrate,
		URL:               best.URL,
		Codec:             best.Codecs,
		Loudness:          info.loudness,
		PerceivedLoudness: info.perceivedLoudness,
	}, nil
}

func (c *Client) player(ctx context.Context, id string) (*playerInfo, error) {
	payload, err := json.Marshal(map[string]any{
		"videoId": id,
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    clientName,
				"clientVersion": clientVersion,
				"hl":            "en",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build player request: %w", err)
	}

	body, err := c.http.Post(ctx, c.playerURL, bytes.NewReader(payload), fetch.WithHeader("Content-Type", "application/json"))
	if err != nil {
		return nil, fmt.Errorf("youtube player request failed: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: youtube player returned invalid json", media.ErrParse)
	}
	return parsePlayer(id, body)
}

func parsePlayer(id string, body []byte) (*playerInfo, error) {
	root := gjson.ParseBytes(body)
	if status := root.Get("playabilityStatus.status").String(); status != "" && status != "OK" {
		return nil, fmt.Errorf("%w: video %s is %s: %s", media.ErrNotFound, id, status, root.Get("playabilityStatus.reason").String())
	}

	details := root.Get("videoDetails")
	info := &playerInfo{
		videoID:           id,
		title:             details.Get("title").String(),
		author:            details.Get("author").String(),
		channelID:         details.Get("channelId").String(),
		lengthSeconds:     int(details.Get("lengthSeconds").Int()),
		loudness:          root.Get("playerConfig.audioConfig.loudnessDb").Float(),
		perceivedLoudness: root.Get("playerConfig.audioConfig.perceptualLoudnessDb").Float(),
	}
	for _, th := range details.Get("thumbnail.thumbnails.#.url").Array() {
		info.thumbnails = append(info.thumbnails, th.String())
	}

	formats := root.Get("streamingData.adaptiveFormats")
	if !formats.Exists() || len(formats.Array()) == 0 {
		formats = root.Get("streamingData.formats")
	}
	for _, f := range formats.Array() {
		mime := f.Get("mimeType").String()
		if info.durationMs == 0 {
			info.durationMs = f.Get("approxDurationMs").Int()
		}
		info.formats = append(info.formats, media.Format{
			Bitrate:  int(f.Get("bitrate").Int()),
			URL:      f.Get("url").String(),
			MimeType: mime,
			Codecs:   codecsOf(mime),
			HasAudio: strings.HasPrefix(mime, "audio/") || f.Get("audioQuality").Exists(),
		})
	}
	return info, nil
}

// codecsOf 从 `audio/mp4; codecs="mp4a.40.2"` 中取出编码
func codecsOf(mime string) string {
	_, params, ok := strings.Cut(mime, "codecs=")
	if !ok {
		return ""
	}
	return strings.Trim(params, `"' `)
}
