package media

import (
	"context"
	"fmt"
	"strings"
)

// SearchOptions 搜索选项
type SearchOptions struct {
	UseTagFilter bool
	FastMode     bool
}

// Resolver 单个来源的解析能力
type Resolver interface {
	// Source 解析器对应的来源
	Source() Source

	// ResolveSearch 把关键词或URL解析成歌曲列表
	ResolveSearch(ctx context.Context, input string, opts SearchOptions) ([]Song, error)

	// ResolveStream 解析单曲的播放流
	ResolveStream(ctx context.Context, song Song) (*StreamCandidate, error)
}

// Registry 来源到解析器的映射表
type Registry struct {
	resolvers map[Source]Resolver
}

// NewRegistry 创建解析器映射表
func NewRegistry(resolvers ...Resolver) *Registry {
	r := &Registry{resolvers: make(map[Source]Resolver, len(resolvers))}
	for _, res := range resolvers {
		r.Register(res)
	}
	return r
}

// Register 注册解析器，同一来源后注册的覆盖先注册的
func (r *Registry) Register(res Resolver) {
	r.resolvers[res.Source()] = res
}

// Get 获取来源对应的解析器
func (r *Registry) Get(source Source) (Resolver, error) {
	res, ok := r.resolvers[source]
	if !ok {
		return nil, fmt.Errorf("no resolver registered for %s: %w", source, ErrUnsupported)
	}
	return res, nil
}

// Sources 已注册的来源，按 Sources() 的顺序
func (r *Registry) Sources() []Source {
	var out []Source
	for _, s := range Sources() {
		if _, ok := r.resolvers[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Format 单个候选流
type Format struct {
	Bitrate  int
	URL      string
	MimeType string
	Codecs   string
	HasAudio bool
}

// SupportsPlayback 音频编码是否为播放引擎支持的 AAC 系列
func (f Format) SupportsPlayback() bool {
	return strings.Contains(f.Codecs, "mp4a")
}

// SelectStream 选出带音频且编码兼容的最高码率流，码率相同取先出现的
func SelectStream(formats []Format) (Format, bool) {
	var best Format
	found := false
	for _, f := range formats {
		if !f.HasAudio || !f.SupportsPlayback() {
			continue
		}
		if !found || f.Bitrate > best.Bitrate {
			best = f
			found = true
		}
	}
	return best, found
}
