package musicfree

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/media"
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "musicfree").Logger()
	return &l
}

// idSep 插件名与插件内ID的分隔
const idSep = ":"

// Resolver 聚合源解析器，按顺序查询每个插件
type Resolver struct {
	sources []DataSource
}

// NewResolver 创建聚合源解析器
func NewResolver(sources ...DataSource) *Resolver {
	return &Resolver{sources: sources}
}

// Source 实现 media.Resolver
func (r *Resolver) Source() media.Source {
	return media.SourceMusicFree
}

// Plugins 已加载的插件名
func (r *Resolver) Plugins() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// ResolveSearch 单个插件失败只记录日志，不影响其他插件
func (r *Resolver) ResolveSearch(ctx context.Context, input string, _ media.SearchOptions) ([]media.Song, error) {
	keyword := strings.TrimSpace(input)
	if len(r.sources) == 0 {
		return nil, fmt.Errorf("no musicfree plugins configured: %w", media.ErrUnsupported)
	}

	var songs []media.Song
	for i, src := range r.sources {
		tracks, err := src.Search(ctx, keyword)
		if err != nil {
			logger().Warn().Err(err).Str("plugin", src.Name()).Msg("Plugin search failed")
		}
		for _, t := range tracks {
			songs = append(songs, media.Normalize(media.Descriptor{
				ID:              src.Name() + idSep + t.ID,
				Title:           t.Title,
				Author:          t.Artist,
				AuthorID:        t.ArtistID,
				Thumbnails:      []string{t.Artwork},
				DurationSeconds: t.DurationSeconds,
				DurationMs:      t.DurationMs,
				Album:           t.Album,
				Lyric:           t.Lyric,
				Page:            1,
			}, media.SourceMusicFree))
		}
		media.ReportProgress(ctx, float64(i+1)/float64(len(r.sources)))
	}
	logger().Debug().Str("keyword", keyword).Int("count", len(songs)).Msg("Aggregated search finished")
	return songs, nil
}

// ResolveStream 交给歌曲所属的插件
func (r *Resolver) ResolveStream(ctx context.Context, song media.Song) (*media.StreamCandidate, error) {
	name, id, ok := strings.Cut(song.BVID, idSep)
	if !ok {
		return nil, fmt.Errorf("%w: malformed musicfree id %q", media.ErrParse, song.BVID)
	}
	for _, src := range r.sources {
		if src.Name() != name {
			continue
		}
		u, err := src.StreamURL(ctx, id)
		if err != nil {
			return nil, err
		}
		return &media.StreamCandidate{URL: u}, nil
	}
	return nil, fmt.Errorf("plugin %s is not loaded: %w", name, media.ErrUnsupported)
}
