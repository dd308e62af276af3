package local

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/media"
	"nox-backend/pkg/medialib"
)

// Scheme 本地媒体链接前缀
const Scheme = "local://"

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "local").Logger()
	return &l
}

// IsDirect 是否为 local:// 链接
func IsDirect(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), Scheme)
}

// URLFor 由相对路径生成 local:// 链接
func URLFor(rel string) string {
	return Scheme + rel
}

// Resolver 本地媒体库解析器，不访问网络
type Resolver struct {
	lib *medialib.Library
}

// NewResolver 创建本地解析器
func NewResolver(lib *medialib.Library) *Resolver {
	return &Resolver{lib: lib}
}

// Source 实现 media.Resolver
func (r *Resolver) Source() media.Source {
	return media.SourceLocal
}

// ResolveSearch local:// 链接按文件或目录解析，其他输入在库内按关键词查询
func (r *Resolver) ResolveSearch(ctx context.Context, input string, _ media.SearchOptions) ([]media.Song, error) {
	input = strings.TrimSpace(input)
	if !IsDirect(input) {
		files, err := r.lib.Search(ctx, input, 0)
		if err != nil {
			return nil, err
		}
		return toSongs(files), nil
	}

	rel := strings.TrimPrefix(input, Scheme)
	if unescaped, err := url.PathUnescape(rel); err == nil {
		rel = unescaped
	}

	file, err := r.lib.FindByPath(ctx, rel)
	if err == nil {
		return toSongs([]medialib.MediaFile{*file}), nil
	}
	if !errors.Is(err, media.ErrNotFound) {
		return nil, err
	}

	if id, convErr := strconv.ParseInt(rel, 10, 64); convErr == nil {
		if file, err := r.lib.ListMediaFileByID(ctx, id); err == nil {
			return toSongs([]medialib.MediaFile{*file}), nil
		}
	}

	files, err := r.lib.ListUnder(ctx, rel)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s is not in the media library", media.ErrNotFound, rel)
	}
	logger().Debug().Str("dir", rel).Int("count", len(files)).Msg("Resolved local directory")
	return toSongs(files), nil
}

// ResolveStream 返回文件的 file:// 地址
func (r *Resolver) ResolveStream(_ context.Context, song media.Song) (*media.StreamCandidate, error) {
	abs := r.lib.AbsPath(song.BVID)
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: local file %s", media.ErrNotFound, song.BVID)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return &media.StreamCandidate{
		URL:   u.String(),
		Codec: strings.TrimPrefix(strings.ToLower(filepath.Ext(abs)), "."),
	}, nil
}

func toSongs(files []medialib.MediaFile) []media.Song {
	songs := make([]media.Song, 0, len(files))
	for _, f := range files {
		var thumbs []string
		if f.Cover != "" {
			thumbs = []string{(&url.URL{Scheme: "file", Path: filepath.ToSlash(f.Cover)}).String()}
		}
		songs = append(songs, media.Normalize(media.Descriptor{
			Thumbnails:      thumbs,
			ID:              f.RelativePath,
			Title:           f.Title,
			Author:          f.Artist,
			Album:           f.Album,
			DurationSeconds: f.Duration,
			Page:            1,
		}, media.SourceLocal))
	}
	return songs
}
