package music

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/media"
)

// Provider 音乐提供商类型
type Provider string

const (
	// ProviderLRCLib LRCLib歌词库
	ProviderLRCLib Provider = "lrclib"
	// ProviderNetEase 网易云音乐
	ProviderNetEase Provider = "netease"
	// ProviderQQMusic QQ音乐
	ProviderQQMusic Provider = "qqmusic"
)

var errNoProviders = fmt.Errorf("no music providers available: %w", media.ErrUnsupported)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "music-manager").Logger()
	return &l
}

// Hit 提供商链的一次命中
type Hit struct {
	Provider string
	Lyrics   string
}

// Manager 按优先级依次尝试各提供商
type Manager struct {
	providers []MusicAPI
}

func NewManager(providers []MusicAPI) *Manager {
	m := &Manager{providers: providers}
	if len(providers) == 0 {
		logger().Warn().Msg("No music providers configured")
		return m
	}
	logger().Info().Strs("providers", m.GetProviderNames()).Msg("Music API Manager initialized")
	return m
}

// first 依次调用 fn，返回第一个成功的结果；全部失败时合并所有错误
func (m *Manager) first(ctx context.Context, op string, fn func(MusicAPI) (string, error)) (Hit, error) {
	if len(m.providers) == 0 {
		return Hit{}, errNoProviders
	}

	var errs []error
	for i, provider := range m.providers {
		if err := ctx.Err(); err != nil {
			return Hit{}, fmt.Errorf("%s cancelled: %w", op, err)
		}
		name := provider.GetProviderName()
		l := logger().With().Str("op", op).Str("provider", name).Int("attempt", i+1).Logger()

		out, err := fn(provider)
		if err == nil {
			l.Info().Msg("Provider succeeded")
			return Hit{Provider: name, Lyrics: out}, nil
		}
		l.Warn().Err(err).Msg("Provider failed")
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return Hit{}, fmt.Errorf("all providers failed to %s: %w", op, errors.Join(errs...))
}

// SearchSong 返回第一个能找到歌曲的提供商给出的ID
func (m *Manager) SearchSong(ctx context.Context, title, artist string) (string, error) {
	hit, err := m.first(ctx, "search song", func(p MusicAPI) (string, error) {
		return p.SearchSong(ctx, title, artist)
	})
	return hit.Lyrics, err
}

// GetLyrics ID 只对产生它的提供商有意义，其余提供商会失败后被跳过
func (m *Manager) GetLyrics(ctx context.Context, songID string) (string, error) {
	hit, err := m.first(ctx, "get lyrics", func(p MusicAPI) (string, error) {
		return p.GetLyrics(ctx, songID)
	})
	return hit.Lyrics, err
}

// Lookup 按歌曲信息查询并返回命中的提供商。
// 有时长且提供商支持 DurationMatcher 时直接按时长匹配，否则搜索后取歌词。
func (m *Manager) Lookup(ctx context.Context, title, artist string, duration float64) (Hit, error) {
	logger().Info().Str("title", title).Str("artist", artist).Float64("duration", duration).Msg("Looking up lyrics")
	return m.first(ctx, "lookup lyrics", func(p MusicAPI) (string, error) {
		if matcher, ok := p.(DurationMatcher); ok && duration > 0 {
			return matcher.GetLyricsByInfo(ctx, title, artist, duration)
		}
		songID, err := p.SearchSong(ctx, title, artist)
		if err != nil {
			return "", fmt.Errorf("search: %w", err)
		}
		return p.GetLyrics(ctx, songID)
	})
}

func (m *Manager) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	hit, err := m.Lookup(ctx, title, artist, duration)
	return hit.Lyrics, err
}

func (m *Manager) GetProviderName() string {
	if len(m.providers) > 0 {
		return fmt.Sprintf("Manager[Primary: %s]", m.providers[0].GetProviderName())
	}
	return "Manager[No Providers]"
}

func (m *Manager) GetProviderCount() int {
	return len(m.providers)
}

func (m *Manager) GetProviderNames() []string {
	names := make([]string, len(m.providers))
	for i, provider := range m.providers {
		names[i] = provider.GetProviderName()
	}
	return names
}
