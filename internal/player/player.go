package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/media"
)

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "player").Logger()
	return &l
}

// ErrNoActiveTrack 没有正在播放的曲目
var ErrNoActiveTrack = errors.New("no active track")

// Player 播放器
type Player interface {
	Play(ctx context.Context, song media.Song, stream media.StreamCandidate) error
	// SetVolumeForReplayGain 按增益设置音量，fadeMs 大于0时从 initVolume 渐变
	SetVolumeForReplayGain(ctx context.Context, gainDb float64, fadeMs int, initVolume float64) error
	ActiveTrack(ctx context.Context) (media.Song, error)
	Position(ctx context.Context) float64
}

// GainToVolume 分贝增益换算成 [0,1] 的音量
func GainToVolume(gainDb float64) float64 {
	v := math.Pow(10, gainDb/20)
	return math.Max(0, math.Min(1, v))
}

// GainForStream YouTube 提供的响度换算成增益
func GainForStream(stream media.StreamCandidate) float64 {
	return -stream.Loudness
}

// ApplyReplayGain 歌曲仍在播放时才调整音量
func ApplyReplayGain(ctx context.Context, p Player, song media.Song, gainDb float64, fadeMs int, initVolume float64) (bool, error) {
	active, err := p.ActiveTrack(ctx)
	if err != nil {
		return false, err
	}
	if active.Key() != song.Key() {
		logger().Debug().Str("song", song.Display()).Str("active", active.Display()).Msg("Song is no longer active, skip replay gain")
		return false, nil
	}
	if err := p.SetVolumeForReplayGain(ctx, gainDb, fadeMs, initVolume); err != nil {
		return false, err
	}
	return true, nil
}

// Runner 执行外部命令
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Playerctl 通过 playerctl 控制 MPRIS 播放器
type Playerctl struct {
	run       Runner
	fadeSteps int

	mu      sync.Mutex
	current media.Song
	url     string
}

// NewPlayerctl 创建播放器，run 为空时直接执行命令
func NewPlayerctl(run Runner) *Playerctl {
	if run == nil {
		run = execRunner
	}
	return &Playerctl{run: run, fadeSteps: 10}
}

func (p *Playerctl) ctl(ctx context.Context, args ...string) (string, error) {
	out, err := p.run(ctx, "playerctl", args...)
	if err != nil {
		return "", fmt.Errorf("playerctl %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Play 打开播放流
func (p *Playerctl) Play(ctx context.Context, song media.Song, stream media.StreamCandidate) error {
	if stream.URL == "" {
		return fmt.Errorf("empty stream url for %s: %w", song.Display(), media.ErrNotFound)
	}
	if _, err := p.ctl(ctx, "open", stream.URL); err != nil {
		return err
	}
	p.mu.Lock()
	p.current, p.url = song, stream.URL
	p.mu.Unlock()
	logger().Info().Str("song", song.Display()).Int("bitrate", stream.Bitrate).Msg("Playing")
	return nil
}

// SetVolumeForReplayGain 设置音量，可渐变
func (p *Playerctl) SetVolumeForReplayGain(ctx context.Context, gainDb float64, fadeMs int, initVolume float64) error {
	target := GainToVolume(gainDb)
	if fadeMs <= 0 || p.fadeSteps <= 1 {
		return p.setVolume(ctx, target)
	}

	step := time.Duration(fadeMs) * time.Millisecond / time.Duration(p.fadeSteps)
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for i := 1; i <= p.fadeSteps; i++ {
		v := initVolume + (target-initVolume)*float64(i)/float64(p.fadeSteps)
		if err := p.setVolume(ctx, v); err != nil {
			return err
		}
		if i == p.fadeSteps {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (p *Playerctl) setVolume(ctx context.Context, v float64) error {
	_, err := p.ctl(ctx, "volume", strconv.FormatFloat(v, 'f', 3, 64))
	return err
}

// ActiveTrack 当前播放的曲目，是自己打开的流时返回原歌曲
func (p *Playerctl) ActiveTrack(ctx context.Context) (media.Song, error) {
	out, err := p.ctl(ctx, "metadata", "--format", "{{xesam:url}}\t{{title}}\t{{artist}}\t{{mpris:length}}")
	if err != nil {
		return media.Song{}, err
	}
	if out == "" {
		return media.Song{}, ErrNoActiveTrack
	}
	fields := strings.Split(out, "\t")
	for len(fields) < 4 {
		fields = append(fields, "")
	}

	p.mu.Lock()
	current, url := p.current, p.url
	p.mu.Unlock()
	if url != "" && fields[0] == url {
		return current, nil
	}

	// mpris:length 单位为微秒
	lengthUs, _ := strconv.ParseInt(fields[3], 10, 64)
	return media.Song{
		CID:      fields[0],
		Name:     fields[1],
		NameRaw:  fields[1],
		Singer:   fields[2],
		Duration: int(lengthUs / 1e6),
		Page:     1,
	}, nil
}

// Position 当前播放进度（秒），失败时返回0
func (p *Playerctl) Position(ctx context.Context) float64 {
	out, err := p.ctl(ctx, "position")
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0
	}
	return seconds
}
