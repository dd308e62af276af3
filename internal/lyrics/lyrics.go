package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/ai"
	"nox-backend/pkg/fetch"
	"nox-backend/pkg/fileutil"
	"nox-backend/pkg/media"
	"nox-backend/pkg/music"
	musiccache "nox-backend/pkg/musicCache"
	"nox-backend/pkg/qqmusic"
)

const (
	DefaultMappingURL = "https://raw.githubusercontent.com/kenmingwang/azusa-player-lrcs/main/mappings.txt"
	DefaultBaseURL    = "https://raw.githubusercontent.com/kenmingwang/azusa-player-lrcs/main/{songFile}"

	// FallbackNotFound 自动搜索失败
	FallbackNotFound = "[00:00.000] 无法找到歌词"
	// FallbackManual 需要手动搜索
	FallbackManual = "[00:00.000] 无法找到歌词,请手动搜索"

	mappingCacheKey = "lyric:mapping"
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "lyrics").Logger()
	return &l
}

// Result 歌词查询结果，未找到时 Text 为兜底文本
type Result struct {
	Text   string `json:"text"`
	Found  bool   `json:"found"`
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`

	// Query 自动查询实际使用的歌名和歌手，手动选择时原样传回 PickLyric
	Query Query `json:"query"`
}

func notFound(title, fallback string) Result {
	return Result{Text: fallback, Title: title}
}

// Option QQ 搜索得到的候选
type Option struct {
	Key     string `json:"key"`
	SongMid string `json:"songMid"`
	Label   string `json:"label"`
}

// Query 自动查询的输入
type Query struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Duration float64 `json:"duration"`
}

// QueryFromSong 由歌曲构造查询
func QueryFromSong(song media.Song) Query {
	return Query{Title: song.Name, Artist: song.Singer, Duration: float64(song.Duration)}
}

// Cache 歌词缓存(redis)
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Config 歌词获取配置
type Config struct {
	MappingURL string
	BaseURL    string
	CacheDir   string
	CacheTTL   time.Duration
}

// FetcherOption 可选依赖
type FetcherOption func(*Fetcher)

// WithCache 使用 redis 缓存
func WithCache(c Cache) FetcherOption {
	return func(f *Fetcher) { f.cache = c }
}

// WithPicks 记住手动选择的歌词
func WithPicks(s *musiccache.Store) FetcherOption {
	return func(f *Fetcher) { f.picks = s }
}

// WithAI 用模型从标题中提取歌名和歌手
func WithAI(client ai.AiInterface) FetcherOption {
	return func(f *Fetcher) { f.ai = client }
}

// WithManager 自动查询时使用的提供商链
func WithManager(m music.MusicManager) FetcherOption {
	return func(f *Fetcher) { f.manager = m }
}

// Fetcher 歌词获取
type Fetcher struct {
	cfg  Config
	http *fetch.Client
	qq   *qqmusic.Client

	manager music.MusicManager
	cache   Cache
	picks   *musiccache.Store
	ai      ai.AiInterface

	mu        sync.Mutex
	mapping   string
	mappingAt time.Time
}

// NewFetcher 创建歌词获取器
func NewFetcher(cfg Config, qq *qqmusic.Client, opts ...FetcherOption) *Fetcher {
	if cfg.MappingURL == "" {
		cfg.MappingURL = DefaultMappingURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if qq == nil {
		qq = qqmusic.NewClient()
	}
	f := &Fetcher{
		cfg:  cfg,
		http: fetch.NewClient(10*time.Second, 1),
		qq:   qq,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchLRC 映射文件策略：找到第一行包含歌名的映射并下载对应歌词
func (f *Fetcher) FetchLRC(ctx context.Context, name string) Result {
	songName := ExtractSongName(name)
	mappings, err := f.mappings(ctx)
	if err != nil {
		logger().Warn().Err(err).Msg("Failed to fetch lyric mapping file")
		return notFound(songName, FallbackNotFound)
	}

	songFile := ""
	if songName != "" {
		for _, line := range strings.Split(mappings, "\n") {
			if strings.Contains(line, songName) {
				songFile = strings.TrimSpace(line)
				break
			}
		}
	}
	if songFile == "" {
		logger().Info().Str("name", songName).Msg("Song is not in the lyric mapping")
		return notFound(songName, FallbackNotFound)
	}

	lrcURL := strings.ReplaceAll(f.cfg.BaseURL, "{songFile}", escapePath(songFile))
	data, err := f.http.Get(ctx, lrcURL)
	if err != nil {
		logger().Warn().Err(err).Str("file", songFile).Msg("Failed to fetch mapped lyric")
		return notFound(songName, FallbackNotFound)
	}
	return Result{Text: decodeText(data), Found: true, Title: songName, Source: "mapping"}
}

// mappings 映射文件在内存和 redis 中缓存
func (f *Fetcher) mappings(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mapping != "" && time.Since(f.mappingAt) < f.cfg.CacheTTL {
		return f.mapping, nil
	}
	if f.cache != nil {
		if cached, err := f.cache.Get(ctx, mappingCacheKey); err == nil && cached != "" {
			f.mapping, f.mappingAt = cached, time.Now()
			return cached, nil
		}
	}

	data, err := f.http.Get(ctx, f.cfg.MappingURL)
	if err != nil {
		return "", err
	}
	f.mapping, f.mappingAt = decodeText(data), time.Now()
	if f.cache != nil {
		if err := f.cache.SetWithExpiration(ctx, mappingCacheKey, f.mapping, f.cfg.CacheTTL); err != nil {
			logger().Warn().Err(err).Msg("Failed to cache lyric mapping")
		}
	}
	return f.mapping, nil
}

// SearchLyricOptions QQ 搜索候选，key 为空时返回错误
func (f *Fetcher) SearchLyricOptions(ctx context.Context, key string) ([]Option, error) {
	results, err := f.qq.Search(ctx, key)
	if err != nil {
		return nil, err
	}
	options := make([]Option, 0, len(results))
	for i, r := range results {
		options = append(options, Option{
			Key:     r.Mid,
			SongMid: r.Mid,
			Label:   fmt.Sprintf("%d. %s / %s", i, r.Name, r.Singer),
		})
	}
	return options, nil
}

// SearchLyric 按 songMid 获取歌词，有翻译时翻译在前
func (f *Fetcher) SearchLyric(ctx context.Context, songMid string) Result {
	lyric, err := f.qq.Lyric(ctx, songMid)
	if err != nil {
		logger().Warn().Err(err).Str("song_mid", songMid).Msg("Failed to fetch QQ lyric")
		return notFound("", FallbackManual)
	}
	if lyric.Lyric == "" {
		return notFound("", FallbackManual)
	}
	return Result{Text: lyric.Merged(), Found: true, Source: "qqmusic"}
}

// PickLyric 用户手动选择歌词后记住选择并刷新缓存，q 取自 AutoLyric 的 Result.Query
func (f *Fetcher) PickLyric(ctx context.Context, q Query, songMid string) Result {
	res := f.SearchLyric(ctx, songMid)
	res.Title = q.Title
	res.Query = q
	if !res.Found {
		return res
	}
	key := cacheKey(q)
	if f.picks != nil {
		if err := f.picks.Set(key, songMid); err != nil {
			logger().Warn().Err(err).Str("key", key).Msg("Failed to remember lyric pick")
		}
	}
	f.store(ctx, key, res.Text)
	return res
}

// AutoLyric 依次尝试缓存、手动选择记录、映射文件和提供商链
func (f *Fetcher) AutoLyric(ctx context.Context, q Query) Result {
	q = f.refineQuery(ctx, q)
	res := f.autoLyric(ctx, q)
	res.Query = q
	return res
}

func (f *Fetcher) autoLyric(ctx context.Context, q Query) Result {
	if q.Title == "" {
		return notFound("", FallbackNotFound)
	}
	key := cacheKey(q)

	if text, ok := f.lookup(ctx, key); ok {
		return Result{Text: text, Found: true, Title: q.Title, Source: "cache"}
	}

	if f.picks != nil {
		if mid, err := f.picks.Get(key); err == nil {
			if res := f.SearchLyric(ctx, mid); res.Found {
				res.Title = q.Title
				f.store(ctx, key, res.Text)
				return res
			}
		}
	}

	if res := f.FetchLRC(ctx, q.Title); res.Found {
		f.store(ctx, key, res.Text)
		return res
	}

	if f.manager != nil {
		hit, err := f.manager.Lookup(ctx, q.Title, q.Artist, q.Duration)
		if err == nil && strings.TrimSpace(hit.Lyrics) != "" {
			text := strings.ReplaceAll(hit.Lyrics, "\r\n", "\n")
			f.store(ctx, key, text)
			return Result{Text: text, Found: true, Title: q.Title, Source: hit.Provider}
		}
		logger().Warn().Err(err).Str("title", q.Title).Str("artist", q.Artist).Msg("All lyric providers failed")
	}

	return notFound(q.Title, FallbackNotFound)
}

func formatQuerySong(title string) string {
	return fmt.Sprintf(`请精确地按照以下JSON格式提取歌曲信息: {"is_song": true, "title": "歌曲标题", "artist": "演唱者"}。  输入是一个媒体标题，如果标题中包含歌曲信息，请返回符合格式的JSON；否则，返回{"is_song": false}。 请注意，"title" 和 "artist" 必须准确，否则将被视为错误，切记不要任何markdown格式，并将繁体中文转换为简体。 媒体标题是：%s`, title)
}

// refineQuery 有模型时用模型提取，否则按规则提取歌名
func (f *Fetcher) refineQuery(ctx context.Context, q Query) Query {
	raw := strings.TrimSpace(q.Title)
	q.Title = ExtractSongName(raw)
	q.Artist = NormalizeName(q.Artist)
	if f.ai == nil || raw == "" {
		return q
	}

	aiCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	const maxRetries = 3
	var reply string
	var err error
	for i := range maxRetries {
		reply, err = f.ai.HandleText(aiCtx, formatQuerySong(raw+" "+q.Artist))
		if err == nil {
			break
		}
		logger().Warn().Err(err).Int("attempt", i+1).Str("model", f.ai.Name()).Msg("Failed to query model")
	}
	if err != nil {
		return q
	}

	var info music.SongInfo
	if err := json.Unmarshal([]byte(ai.StripCodeFence(reply)), &info); err != nil {
		logger().Warn().Err(err).Str("reply", reply).Msg("Failed to parse model response")
		return q
	}
	if !info.IsSong || info.Title == "" {
		logger().Info().Str("title", raw).Msg("Model says this is not a song")
		return q
	}
	logger().Info().Str("title", info.Title).Str("artist", info.Artist).Msg("Model extracted song info")
	q.Title = NormalizeName(info.Title)
	if info.Artist != "" {
		q.Artist = NormalizeName(info.Artist)
	}
	return q
}

func cacheKey(q Query) string {
	if q.Artist == "" {
		return sanitizeFilename(q.Title)
	}
	return sanitizeFilename(q.Title + "-" + q.Artist)
}

// lookup 先查文件缓存，再查 redis
func (f *Fetcher) lookup(ctx context.Context, key string) (string, bool) {
	if f.cfg.CacheDir != "" {
		path := filepath.Join(f.cfg.CacheDir, key+".lrc")
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			logger().Info().Str("path", path).Msg("Cache HIT")
			return decodeText(data), true
		}
	}
	if f.cache != nil {
		if text, err := f.cache.Get(ctx, "lyric:"+key); err == nil && text != "" {
			logger().Info().Str("key", key).Msg("Redis cache HIT")
			return text, true
		}
	}
	return "", false
}

func (f *Fetcher) store(ctx context.Context, key, text string) {
	if f.cfg.CacheDir != "" {
		path := filepath.Join(f.cfg.CacheDir, key+".lrc")
		if err := fileutil.WriteFileOverwrite(path, []byte(text), 0644); err != nil {
			logger().Error().Err(err).Str("path", path).Msg("Failed to write cache file")
		}
	}
	if f.cache != nil {
		if err := f.cache.SetWithExpiration(ctx, "lyric:"+key, text, f.cfg.CacheTTL); err != nil {
			logger().Warn().Err(err).Str("key", key).Msg("Failed to cache lyric in redis")
		}
	}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
