package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/media"
)

// DefaultPlaylistTitle 搜索歌单默认标题
const DefaultPlaylistTitle = "搜索歌单"

// Indeterminate 进度未知，不代表完成
const Indeterminate = 1.0

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "search").Logger()
	return &l
}

// ProgressSink 接收搜索进度
type ProgressSink interface {
	SetProgress(v float64)
}

// PlaylistSink 接收新的搜索歌单，覆盖旧的
type PlaylistSink interface {
	ReplaceSearchPlaylist(playlist media.SearchResultPlaylist)
}

// ResultListener 搜索完成后的回调
type ResultListener func(songs []media.Song)

// Player 播放搜索结果的第一首
type Player interface {
	Play(ctx context.Context, song media.Song, stream media.StreamCandidate) error
}

// Options 单次搜索选项
type Options struct {
	// Source 关键词搜索使用的来源，为空时用默认来源
	Source media.Source
	// Sources 额外依次查询的来源
	Sources      []media.Source
	UseTagFilter bool
	FastMode     bool
}

// ShareItem 外部分享的内容
type ShareItem struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Config 调度器配置
type Config struct {
	DefaultSource media.Source
	PlaylistTitle string
	// ShareOptions 处理分享时使用的搜索选项
	ShareOptions Options
}

// Option 注入外部依赖
type Option func(*Dispatcher)

// WithProgressSink 设置进度接收方
func WithProgressSink(s ProgressSink) Option {
	return func(d *Dispatcher) { d.progress = s }
}

// WithPlaylistSink 设置歌单接收方
func WithPlaylistSink(s PlaylistSink) Option {
	return func(d *Dispatcher) { d.playlist = s }
}

// WithResultListener 设置搜索结果回调
func WithResultListener(fn ResultListener) Option {
	return func(d *Dispatcher) { d.listener = fn }
}

// WithPlayer 设置播放器
func WithPlayer(p Player) Option {
	return func(d *Dispatcher) { d.player = p }
}

// Dispatcher 搜索调度：识别输入、调用解析器、合并结果并写入状态
type Dispatcher struct {
	registry *media.Registry
	cfg      Config

	progress ProgressSink
	playlist PlaylistSink
	listener ResultListener
	player   Player

	generation atomic.Uint64

	// publishMu 保证代数检查和写入歌单之间不会插入更新的搜索
	publishMu sync.Mutex

	mu           sync.Mutex
	lastFraction float64
	lastShare    string
	hasShare     bool
}

// NewDispatcher 创建调度器
func NewDispatcher(registry *media.Registry, cfg Config, opts ...Option) *Dispatcher {
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = media.SourceBilibili
	}
	if cfg.PlaylistTitle == "" {
		cfg.PlaylistTitle = DefaultPlaylistTitle
	}
	d := &Dispatcher{registry: registry, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Generation 当前搜索代数
func (d *Dispatcher) Generation() uint64 {
	return d.generation.Load()
}

// Search 执行一次搜索并替换搜索歌单；被更新的搜索取代时返回 media.ErrSuperseded 且不写任何状态
func (d *Dispatcher) Search(ctx context.Context, input string, opts Options) (*media.SearchResultPlaylist, error) {
	input = strings.TrimSpace(input)
	gen := d.generation.Add(1)
	l := logger().With().Str("request_id", uuid.NewString()).Uint64("generation", gen).Logger()

	if input == "" {
		playlist := d.newPlaylist(input, nil)
		d.apply(gen, playlist, false)
		return &playlist, nil
	}

	sources, direct := d.plan(input, opts)
	l.Info().Str("input", input).Bool("direct", direct).Interface("sources", sources).Msg("Searching")

	d.startProgress(gen)
	songs, err := d.resolve(ctx, l, gen, input, sources, opts)
	if err != nil {
		d.resetProgress(gen)
		return nil, err
	}

	if d.generation.Load() != gen {
		l.Info().Int("songs", len(songs)).Msg("Discarding stale search result")
		return nil, media.ErrSuperseded
	}

	playlist := d.newPlaylist(input, songs)
	if !d.apply(gen, playlist, true) {
		return nil, media.ErrSuperseded
	}
	l.Info().Int("songs", len(songs)).Msg("Search finished")
	return &playlist, nil
}

// SearchAndPlay 搜索后播放第一首，没有结果时跳过播放
func (d *Dispatcher) SearchAndPlay(ctx context.Context, input string, opts Options) (*media.SearchResultPlaylist, error) {
	playlist, err := d.Search(ctx, input, opts)
	if err != nil {
		return nil, err
	}
	if len(playlist.SongList) == 0 {
		logger().Info().Str("input", input).Msg("No search result, skip playback")
		return playlist, nil
	}
	if err := d.Play(ctx, playlist.SongList[0]); err != nil {
		return playlist, err
	}
	return playlist, nil
}

// Play 解析播放流并交给播放器
func (d *Dispatcher) Play(ctx context.Context, song media.Song) error {
	if d.player == nil {
		logger().Warn().Str("song", song.Display()).Msg("No player configured, skip playback")
		return nil
	}
	resolver, err := d.registry.Get(song.Source)
	if err != nil {
		return err
	}
	stream, err := resolver.ResolveStream(ctx, song)
	if err != nil {
		return fmt.Errorf("resolve stream for %s: %w", song.Display(), err)
	}
	if err := d.player.Play(ctx, song, *stream); err != nil {
		return fmt.Errorf("play %s: %w", song.Display(), err)
	}
	return nil
}

// HandleShare 处理外部分享，同一会话内重复的分享内容直接忽略；返回是否触发了搜索
func (d *Dispatcher) HandleShare(ctx context.Context, item ShareItem) (bool, error) {
	d.mu.Lock()
	if item.Data == "" || (d.hasShare && item.Data == d.lastShare) {
		d.mu.Unlock()
		return false, nil
	}
	d.lastShare, d.hasShare = item.Data, true
	d.mu.Unlock()

	logger().Info().Str("mime_type", item.MimeType).Str("data", item.Data).Msg("Handling shared content")
	_, err := d.SearchAndPlay(ctx, item.Data, d.cfg.ShareOptions)
	return true, err
}

// plan 决定要查询的来源，链接输入强制使用对应来源
func (d *Dispatcher) plan(input string, opts Options) ([]media.Source, bool) {
	if source, ok := Classify(input); ok {
		return []media.Source{source}, true
	}

	primary := opts.Source
	if primary == "" {
		primary = d.cfg.DefaultSource
	}
	sources := []media.Source{primary}
	for _, s := range opts.Sources {
		dup := false
		for _, existing := range sources {
			if existing == s {
				dup = true
				break
			}
		}
		if !dup && s != "" {
			sources = append(sources, s)
		}
	}
	return sources, false
}

// resolve 依次调用各来源，单个来源失败只记录日志
func (d *Dispatcher) resolve(ctx context.Context, l zerolog.Logger, gen uint64, input string, sources []media.Source, opts Options) ([]media.Song, error) {
	searchOpts := media.SearchOptions{UseTagFilter: opts.UseTagFilter, FastMode: opts.FastMode}
	seen := make(map[string]struct{})
	songs := []media.Song{}

	for i, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resolver, err := d.registry.Get(source)
		if err != nil {
			l.Warn().Err(err).Str("source", string(source)).Msg("Source not available")
			continue
		}

		offset, span := float64(i), float64(len(sources))
		sctx := media.WithProgress(ctx, func(v float64) {
			d.reportProgress(gen, (offset+v)/span)
		})
		results, err := resolver.ResolveSearch(sctx, input, searchOpts)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			l.Warn().Err(err).Str("source", string(source)).Msg("Resolver failed, skipping")
			continue
		}
		for _, song := range results {
			if _, ok := seen[song.Key()]; ok {
				continue
			}
			seen[song.Key()] = struct{}{}
			songs = append(songs, song)
		}
	}
	return songs, nil
}

func (d *Dispatcher) newPlaylist(input string, songs []media.Song) media.SearchResultPlaylist {
	if songs == nil {
		songs = []media.Song{}
	}
	return media.SearchResultPlaylist{
		Title:        d.cfg.PlaylistTitle,
		SongList:     songs,
		SubscribeURL: subscribeURL(input),
	}
}

// apply 重置进度并写入歌单，代数过期时不写
func (d *Dispatcher) apply(gen uint64, playlist media.SearchResultPlaylist, resetProgress bool) bool {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()

	d.mu.Lock()
	if d.generation.Load() != gen {
		d.mu.Unlock()
		return false
	}
	d.lastFraction = 0
	if resetProgress && d.progress != nil {
		d.progress.SetProgress(0)
	}
	d.mu.Unlock()

	if d.playlist != nil {
		d.playlist.ReplaceSearchPlaylist(playlist)
	}
	if d.listener != nil {
		d.listener(playlist.SongList)
	}
	return true
}

// startProgress 开始等待前把进度设为未知
func (d *Dispatcher) startProgress(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation.Load() != gen {
		return
	}
	d.lastFraction = 0
	if d.progress != nil {
		d.progress.SetProgress(Indeterminate)
	}
}

// resetProgress 搜索失败时把进度重置为0
func (d *Dispatcher) resetProgress(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation.Load() != gen {
		return
	}
	d.lastFraction = 0
	if d.progress != nil {
		d.progress.SetProgress(0)
	}
}

// reportProgress 只转发不回退的分段进度，1.0 保留给未知状态
func (d *Dispatcher) reportProgress(gen uint64, v float64) {
	if v < 0 || v >= Indeterminate {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation.Load() != gen || v < d.lastFraction {
		return
	}
	d.lastFraction = v
	if d.progress != nil {
		d.progress.SetProgress(v)
	}
}
