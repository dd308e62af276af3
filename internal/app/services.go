package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"nox-backend/internal/config"
	"nox-backend/internal/lyrics"
	"nox-backend/internal/player"
	"nox-backend/internal/search"
	"nox-backend/pkg/ai"
	"nox-backend/pkg/ai/gemini"
	"nox-backend/pkg/ai/openai"
	"nox-backend/pkg/bilibili"
	"nox-backend/pkg/ffmpeg"
	"nox-backend/pkg/local"
	"nox-backend/pkg/media"
	"nox-backend/pkg/medialib"
	"nox-backend/pkg/music"
	musiccache "nox-backend/pkg/musicCache"
	"nox-backend/pkg/musicfree"
	"nox-backend/pkg/netease"
	"nox-backend/pkg/qqmusic"
	"nox-backend/pkg/redis"
	"nox-backend/pkg/youtube"
)

// Services 守护进程和命令行共用的组件
type Services struct {
	Config   *config.Config
	Registry *media.Registry
	Lyrics   *lyrics.Fetcher
	FFmpeg   *ffmpeg.Processor
	// Library 未配置媒体库目录时为 nil
	Library *medialib.Library
	// Redis 未配置或连接失败时为 nil
	Redis *redis.Client

	closers []io.Closer
}

// NewServices 按配置创建所有组件，可选组件失败只记录日志
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	if err := os.MkdirAll(cfg.App.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Services{
		Config:   cfg,
		Registry: media.NewRegistry(bilibili.NewClient(), youtube.NewClient()),
		FFmpeg:   ffmpeg.NewProcessor(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath, cfg.FFmpeg.Bitrate, filepath.Join(cfg.App.CacheDir, "tmp")),
	}

	if err := s.openLibrary(); err != nil {
		log.Warn().Err(err).Str("root", cfg.Local.LibraryRoot).Msg("Local library unavailable")
	}
	s.Registry.Register(s.musicFree())

	if cfg.Redis.Addr != "" {
		client, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, lyric cache disabled")
		} else {
			s.Redis = client
			s.closers = append(s.closers, client)
		}
	}

	fetcher, err := s.lyricFetcher(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Lyrics = fetcher
	return s, nil
}

func (s *Services) openLibrary() error {
	cfg := s.Config.Local
	if cfg.LibraryRoot == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0755); err != nil {
		return err
	}
	lib, err := medialib.Open(cfg.LibraryRoot, cfg.Database)
	if err != nil {
		return err
	}
	if s.FFmpeg.Available() {
		lib.SetDurationProbe(func(ctx context.Context, path string) (float64, error) {
			md, err := s.FFmpeg.ProbeMetadata(ctx, path)
			if err != nil {
				return 0, err
			}
			return md.Duration, nil
		})
		coverDir := filepath.Join(s.Config.App.CacheDir, "covers")
		lib.SetCoverExtractor(func(ctx context.Context, path string) (string, bool) {
			return s.FFmpeg.CacheCoverArt(ctx, path, coverDir)
		})
	}
	s.Library = lib
	s.closers = append(s.closers, lib)
	s.Registry.Register(local.NewResolver(lib))
	return nil
}

func (s *Services) musicFree() *musicfree.Resolver {
	var sources []musicfree.DataSource
	if s.Config.MusicFree.Netease {
		sources = append(sources, musicfree.NewNeteaseSource(netease.NewClient()))
	}
	for _, pc := range s.Config.MusicFree.Plugins {
		plugin, err := musicfree.NewHTTPPlugin(pc)
		if err != nil {
			log.Warn().Err(err).Str("plugin", pc.Name).Msg("Skipping invalid MusicFree plugin")
			continue
		}
		sources = append(sources, plugin)
	}
	r := musicfree.NewResolver(sources...)
	log.Info().Strs("plugins", r.Plugins()).Msg("MusicFree sources loaded")
	return r
}

func (s *Services) lyricFetcher(ctx context.Context) (*lyrics.Fetcher, error) {
	cfg := s.Config
	ep := music.Endpoints{
		QQSearchURL: cfg.Lyrics.QQSearchURL,
		QQLyricURL:  cfg.Lyrics.QQLyricURL,
		LRCLibURL:   cfg.Lyrics.LRCLibURL,
	}
	manager, err := music.CreateManager(cfg.Lyrics.Providers, ep)
	if err != nil {
		return nil, fmt.Errorf("failed to create music manager: %w", err)
	}

	opts := []lyrics.FetcherOption{lyrics.WithManager(manager)}
	if s.Redis != nil {
		opts = append(opts, lyrics.WithCache(s.Redis))
	}
	if picks, err := musiccache.NewStore(filepath.Join(cfg.App.CacheDir, "music_cache.list")); err != nil {
		log.Warn().Err(err).Msg("Failed to open lyric pick store")
	} else {
		opts = append(opts, lyrics.WithPicks(picks))
	}
	if client := s.aiClient(ctx); client != nil {
		opts = append(opts, lyrics.WithAI(client))
	}

	qq := qqmusic.NewClient(qqmusic.WithSearchURL(cfg.Lyrics.QQSearchURL), qqmusic.WithLyricURL(cfg.Lyrics.QQLyricURL))
	return lyrics.NewFetcher(lyrics.Config{
		MappingURL: cfg.Lyrics.MappingURL,
		BaseURL:    cfg.Lyrics.BaseURL,
		CacheDir:   filepath.Join(cfg.App.CacheDir, "lyrics"),
		CacheTTL:   cfg.Redis.TTL,
	}, qq, opts...), nil
}

// aiClient module_name 为 gemini 时用 Gemini，否则按 OpenAI 兼容接口
func (s *Services) aiClient(ctx context.Context) ai.AiInterface {
	cfg := s.Config.AI
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.ModuleName == "gemini" {
		client, err := gemini.NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			log.Warn().Err(err).Msg("Gemini unavailable, titles will be parsed by rules only")
			return nil
		}
		s.closers = append(s.closers, client)
		return client
	}
	model := cfg.Model
	if model == "" {
		model = cfg.ModuleName
	}
	return openai.NewOpenAi(cfg.APIKey, model, cfg.BaseURL)
}

// NewDispatcher 创建使用这些组件的搜索调度器
func (s *Services) NewDispatcher(opts ...search.Option) *search.Dispatcher {
	cfg := s.Config.Search
	shareOpts := search.Options{
		Sources:      cfg.ExtraSources,
		UseTagFilter: cfg.UseTagFilter,
		FastMode:     cfg.FastMode,
	}
	return search.NewDispatcher(s.Registry, search.Config{
		DefaultSource: cfg.DefaultSource,
		PlaylistTitle: cfg.PlaylistTitle,
		ShareOptions:  shareOpts,
	}, opts...)
}

// NewPlayer 包装播放器，播放后按响度调整音量
func (s *Services) NewPlayer(p player.Player) search.Player {
	g := &gainPlayer{Player: p}
	if s.FFmpeg.Available() {
		g.probe = s.FFmpeg
	}
	return g
}

// Close 释放数据库、redis 等资源
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
