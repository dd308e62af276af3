package ffmpeg

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"nox-backend/pkg/fetch"
	"nox-backend/pkg/media"
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "ffmpeg").Logger()
	return &l
}

var replayGainRe = regexp.MustCompile(`Parsed_replaygain.+ track_gain = (\S+) dB`)

// Metadata ffprobe -show_format 的结果
type Metadata struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"formatName"`
	Duration   float64           `json:"duration"`
	BitRate    int64             `json:"bitRate"`
	Size       int64             `json:"size"`
	Tags       map[string]string `json:"tags"`
}

// Tag 忽略大小写读取标签
func (m *Metadata) Tag(key string) string {
	if m == nil {
		return ""
	}
	return m.Tags[strings.ToLower(key)]
}

// Processor 封装 ffmpeg/ffprobe 调用
type Processor struct {
	ffmpegPath  string
	ffprobePath string
	bitrate     string
	tempDir     string
	http        *fetch.Client

	// 同一时间只运行一个 ffmpeg，封面临时文件是共享的
	mu sync.Mutex
}

// NewProcessor 创建处理器，ffprobePath 为空时由 ffmpegPath 推导
func NewProcessor(ffmpegPath, ffprobePath, bitrate, tempDir string) *Processor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)
	}
	if bitrate == "" {
		bitrate = "256k"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		logger().Warn().Err(err).Str("dir", tempDir).Msg("Failed to create temp directory")
	}
	return &Processor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		bitrate:     bitrate,
		tempDir:     tempDir,
		http:        fetch.NewClient(15*time.Second, 1),
	}
}

// Available ffprobe 是否可用
func (p *Processor) Available() bool {
	_, err := exec.LookPath(p.ffprobePath)
	return err == nil
}

func (p *Processor) run(ctx context.Context, bin string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger().Debug().Str("bin", bin).Strs("args", args).Msg("Executing command")
	if err := cmd.Run(); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("%w: %s failed: %v: %s", media.ErrNativeModule, filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), stderr.String(), nil
}

// ProbeMetadata 读取容器级元数据
func (p *Processor) ProbeMetadata(ctx context.Context, fspath string) (*Metadata, error) {
	out, _, err := p.run(ctx, p.ffprobePath, "-v", "quiet", "-print_format", "json", "-show_format", fspath)
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(out) {
		return nil, fmt.Errorf("%w: ffprobe output is not json", media.ErrParse)
	}

	format := gjson.Get(out, "format")
	meta := &Metadata{
		Filename:   format.Get("filename").String(),
		FormatName: format.Get("format_name").String(),
		Duration:   format.Get("duration").Float(),
		BitRate:    format.Get("bit_rate").Int(),
		Size:       format.Get("size").Int(),
		Tags:       make(map[string]string),
	}
	format.Get("tags").ForEach(func(k, v gjson.Result) bool {
		meta.Tags[strings.ToLower(k.String())] = v.String()
		return true
	})
	return meta, nil
}

// CoverPath 封面临时文件路径
func (p *Processor) CoverPath() string {
	return filepath.Join(p.tempDir, "tempCover.jpg")
}

// ExtractCoverArt 提取内嵌封面，没有封面时返回 false
func (p *Processor) ExtractCoverArt(ctx context.Context, fspath string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.CoverPath()
	return out, p.extractCover(ctx, fspath, out)
}

// CacheCoverArt 把内嵌封面保存到 dir 下按源文件路径命名的文件，已缓存时直接返回
func (p *Processor) CacheCoverArt(ctx context.Context, fspath, dir string) (string, bool) {
	sum := sha1.Sum([]byte(fspath))
	out := filepath.Join(dir, hex.EncodeToString(sum[:])+".jpg")
	if info, err := os.Stat(out); err == nil && info.Size() > 0 {
		return out, true
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger().Warn().Err(err).Str("dir", dir).Msg("Failed to create cover cache directory")
		return "", false
	}
	return out, p.extractCover(ctx, fspath, out)
}

func (p *Processor) extractCover(ctx context.Context, fspath, out string) bool {
	_ = os.Remove(out)
	if _, _, err := p.run(ctx, p.ffmpegPath, "-y", "-i", fspath, "-an", "-vcodec", "copy", out); err != nil {
		logger().Debug().Err(err).Str("path", fspath).Msg("No embedded cover art")
		_ = os.Remove(out)
		return false
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		return false
	}
	return true
}

// ParseReplayGainLog 从 replaygain 滤镜输出中取最后一个 track_gain，没有时返回0
func ParseReplayGainLog(output string) float64 {
	matches := replayGainRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		logger().Error().Msg("No replaygain found")
		logger().Debug().Str("log", output).Msg("ffmpeg output")
		return 0
	}
	value := matches[len(matches)-1][1]
	if strings.HasPrefix(value, "+") {
		logger().Debug().Str("gain", value).Msg("Positive replaygain is not supported yet")
	}
	gain, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger().Warn().Err(err).Str("gain", value).Msg("Invalid replaygain value")
		return 0
	}
	logger().Debug().Float64("gain_db", gain).Msg("Resolved replaygain")
	return gain
}

// ComputeReplayGain 计算音轨增益(dB)，失败时返回0
func (p *Processor) ComputeReplayGain(ctx context.Context, fspath string) float64 {
	logger().Debug().Str("path", fspath).Msg("Probing replaygain")
	_, stderr, err := p.run(ctx, p.ffmpegPath, "-i", fspath, "-nostats", "-filter_complex", "replaygain", "-f", "null", "-")
	if err != nil {
		logger().Error().Err(err).Str("path", fspath).Msg("Failed to compute replaygain")
		return 0
	}
	return ParseReplayGainLog(stderr)
}

// TranscodeToMP3 转码为mp3；给出歌曲时写入id3标签并尝试嵌入封面
func (p *Processor) TranscodeToMP3(ctx context.Context, fspath string, song *media.Song, unlink bool) (string, error) {
	out := fspath + ".mp3"
	args := []string{"-y", "-i", fspath, "-vn", "-ab", p.bitrate}
	if song != nil {
		args = append(args, "-id3v2_version", "3",
			"-metadata", "title="+song.Name,
			"-metadata", "artist="+song.Singer,
			"-metadata", "album="+song.Album)
	}
	args = append(args, out)

	if _, _, err := p.run(ctx, p.ffmpegPath, args...); err != nil {
		return "", err
	}

	if song != nil && song.Cover != "" {
		if cover, err := p.downloadCover(ctx, song.Cover); err != nil {
			logger().Warn().Err(err).Str("cover", song.Cover).Msg("Failed to download cover art")
		} else {
			defer os.Remove(cover)
			logger().Debug().Msg("Additionally inserting cover art")
			withCover := fspath + ".2.mp3"
			_, _, err := p.run(ctx, p.ffmpegPath, "-y", "-i", out, "-i", cover, "-map", "0:a", "-map", "1:0", "-c", "copy", withCover)
			if err == nil {
				_ = os.Remove(out)
				out = withCover
			} else {
				logger().Warn().Err(err).Msg("Failed to insert cover art")
			}
		}
	}

	if unlink {
		if err := os.Remove(fspath); err != nil {
			logger().Warn().Err(err).Str("path", fspath).Msg("Failed to remove source file")
		}
	}
	return out, nil
}

func (p *Processor) downloadCover(ctx context.Context, coverURL string) (string, error) {
	data, err := p.http.Get(ctx, coverURL)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(p.tempDir, "cover-*."+coverExt(coverURL))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func coverExt(coverURL string) string {
	if i := strings.IndexAny(coverURL, "?#"); i >= 0 {
		coverURL = coverURL[:i]
	}
	ext := strings.TrimPrefix(path.Ext(coverURL), ".")
	switch strings.ToLower(ext) {
	case "jpg", "jpeg", "png", "webp":
		return ext
	}
	return "jpg"
}
