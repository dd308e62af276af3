package medialib

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

var audioExts = map[string]bool{
	".mp3": true, ".flac": true, ".m4a": true, ".aac": true, ".ogg": true,
	".opus": true, ".wav": true, ".wma": true, ".ape": true, ".alac": true,
}

// IsAudioFile 按扩展名判断
func IsAudioFile(path string) bool {
	return audioExts[strings.ToLower(filepath.Ext(path))]
}

// ScanStats 一次扫描的统计
type ScanStats struct {
	Indexed   int `json:"indexed"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// Scan 全量扫描库目录，跳过未变化的文件并清理已删除的记录
func (l *Library) Scan(ctx context.Context) (ScanStats, error) {
	var stats ScanStats
	seen := make(map[string]bool)

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger().Warn().Err(err).Str("path", path).Msg("Failed to walk path")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsAudioFile(path) {
			return nil
		}

		rel, err := l.relPath(path)
		if err != nil {
			return nil
		}
		seen[rel] = true

		changed, err := l.IndexFile(ctx, path)
		switch {
		case err != nil:
			stats.Failed++
			logger().Warn().Err(err).Str("path", path).Msg("Failed to index file")
		case changed:
			stats.Indexed++
		default:
			stats.Unchanged++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to scan %s: %w", l.root, err)
	}

	existing, err := l.ListUnder(ctx, "")
	if err != nil {
		return stats, err
	}
	for _, f := range existing {
		if seen[f.RelativePath] {
			continue
		}
		if err := l.Remove(ctx, f.RelativePath); err != nil {
			return stats, err
		}
		stats.Removed++
	}

	logger().Info().
		Int("indexed", stats.Indexed).
		Int("unchanged", stats.Unchanged).
		Int("removed", stats.Removed).
		Int("failed", stats.Failed).
		Msg("Media library scan finished")
	return stats, nil
}

// IndexFile 读取单个文件的标签并写入索引，文件未变化时返回 false
func (l *Library) IndexFile(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	rel, err := l.relPath(path)
	if err != nil {
		return false, err
	}

	if existing, err := l.FindByPath(ctx, rel); err == nil {
		if existing.Size == info.Size() && existing.ModTime.Unix() == info.ModTime().Unix() {
			return false, nil
		}
	}

	f := MediaFile{
		RelativePath: rel,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
	}
	readTags(path, &f)
	if f.Title == "" {
		f.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if l.probeDuration != nil {
		if seconds, err := l.probeDuration(ctx, path); err == nil && seconds > 0 {
			f.Duration = int(seconds)
		} else if err != nil {
			logger().Debug().Err(err).Str("path", path).Msg("Duration probe failed")
		}
	}
	if l.extractCover != nil {
		if cover, ok := l.extractCover(ctx, path); ok {
			f.Cover = cover
		}
	}

	if err := l.Upsert(ctx, f); err != nil {
		return false, err
	}
	logger().Debug().Str("path", rel).Str("title", f.Title).Msg("Indexed media file")
	return true, nil
}

func readTags(path string, f *MediaFile) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	m, err := tag.ReadFrom(file)
	if err != nil {
		logger().Debug().Err(err).Str("path", path).Msg("No readable tags")
		return
	}
	f.Title = strings.TrimSpace(m.Title())
	f.Artist = strings.TrimSpace(m.Artist())
	f.Album = strings.TrimSpace(m.Album())
}

func (l *Library) relPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(l.root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the library root", path)
	}
	return filepath.ToSlash(rel), nil
}
