package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nox-backend/internal/config"
	"nox-backend/internal/i3block"
	"nox-backend/internal/ipc"
	"nox-backend/internal/lyrics"
	"nox-backend/internal/player"
	"nox-backend/internal/search"
	"nox-backend/internal/ws"
	"nox-backend/pkg/media"
	"nox-backend/pkg/medialib"
)

const (
	timeShit       = 0.1 // s
	commandQueue   = 16
	lyricTimeout   = 30 * time.Second
	watchDelay     = 2 * time.Second
	noMusicPlaying = "No music playing..."
	lyricStarting  = "♪ 即将开始... ♪"
	lyricFinished  = "♪ 歌曲结束 ♪"
)

// LyricSource 歌词来源
type LyricSource interface {
	FetchLRC(ctx context.Context, name string) lyrics.Result
	AutoLyric(ctx context.Context, q lyrics.Query) lyrics.Result
	PickLyric(ctx context.Context, q lyrics.Query, songMid string) lyrics.Result
	SearchLyricOptions(ctx context.Context, key string) ([]lyrics.Option, error)
}

// GainProbe 计算本地文件的增益
type GainProbe interface {
	ComputeReplayGain(ctx context.Context, fspath string) float64
}

type App struct {
	cfg        *config.Config
	hub        *ipc.Hub
	dispatcher *search.Dispatcher
	lyrics     LyricSource
	player     player.Player
	library    *medialib.Library

	currentSong  string
	idle         bool
	currentQuery lyrics.Query
	lastResults  []media.Song
	mutex        sync.Mutex

	// 歌词调度器控制
	schedulerMutex  sync.Mutex
	schedulerCancel context.CancelFunc
	schedulerTick   time.Duration
	schedulers      sync.WaitGroup

	wg sync.WaitGroup
}

// New 用已创建的组件组装守护进程
func New(cfg *config.Config, svc *Services, p player.Player) *App {
	a := newApp(cfg, ipc.NewHub(commandQueue), svc.Lyrics, p)
	a.dispatcher = svc.NewDispatcher(a.dispatcherOptions(svc.NewPlayer(p))...)
	a.library = svc.Library
	return a
}

func newApp(cfg *config.Config, hub *ipc.Hub, src LyricSource, p player.Player) *App {
	return &App{
		cfg:           cfg,
		hub:           hub,
		lyrics:        src,
		player:        p,
		schedulerTick: 50 * time.Millisecond,
	}
}

func (a *App) dispatcherOptions(p search.Player) []search.Option {
	sink := hubSink{hub: a.hub}
	return []search.Option{
		search.WithProgressSink(sink),
		search.WithPlaylistSink(sink),
		search.WithResultListener(a.rememberResults),
		search.WithPlayer(p),
	}
}

// Hub 事件中心，命令行和测试用
func (a *App) Hub() *ipc.Hub {
	return a.hub
}

// Run 启动各个服务并轮询播放器，直到 ctx 结束
func (a *App) Run(ctx context.Context) error {
	log.Info().Str("cache_dir", a.cfg.App.CacheDir).Msg("Lyrics cache directory")

	ipcServer := ipc.NewServer(a.cfg.App.SocketPath, a.hub)
	if err := ipcServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}
	defer ipcServer.Close()

	if a.cfg.App.WSAddr != "" {
		ws.NewBridge(a.cfg.App.WSAddr, a.hub).Start(ctx)
	}
	if a.cfg.I3Block.Enabled {
		ctl := i3block.NewController(a.cfg.I3Block.File, a.cfg.I3Block.Signal, nil)
		ctl.Start(ctx)
		a.hub.Register(ctl)
		defer a.hub.Unregister(ctl)
	}
	if a.library != nil {
		a.startLibrary(ctx)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.commandLoop(ctx)
	}()

	ticker := time.NewTicker(a.cfg.App.CheckInterval)
	defer ticker.Stop()

	log.Info().Msg("Starting player check loop...")
	for {
		a.updateSongInfo(ctx)
		select {
		case <-ctx.Done():
			a.wg.Wait()
			a.stopScheduler()
			a.schedulers.Wait()
			log.Info().Msg("Player check loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// startLibrary 后台扫描媒体库，需要时监听文件变化
func (a *App) startLibrary(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		stats, err := a.library.Scan(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Library scan failed")
		} else {
			log.Info().Interface("stats", stats).Msg("Library scanned")
		}
		if !a.cfg.Local.Watch {
			return
		}
		watcher := medialib.NewWatcher(a.library, watchDelay)
		watcher.OnChange = func(rel string) {
			log.Debug().Str("path", rel).Msg("Library file changed")
		}
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Library watcher stopped")
		}
	}()
}

func (a *App) rememberResults(songs []media.Song) {
	a.mutex.Lock()
	a.lastResults = songs
	a.mutex.Unlock()
}

// hubSink 搜索进度和歌单推送给所有客户端
type hubSink struct {
	hub *ipc.Hub
}

func (s hubSink) SetProgress(v float64) {
	s.hub.Broadcast(ipc.Event{Type: ipc.EventProgress, Data: v})
}

func (s hubSink) ReplaceSearchPlaylist(playlist media.SearchResultPlaylist) {
	s.hub.Broadcast(ipc.Event{Type: ipc.EventPlaylist, Data: playlist})
}

// gainPlayer 播放后按音量标准化调整音量
type gainPlayer struct {
	player.Player
	probe GainProbe
}

func (g *gainPlayer) Play(ctx context.Context, song media.Song, stream media.StreamCandidate) error {
	if err := g.Player.Play(ctx, song, stream); err != nil {
		return err
	}
	gain, ok := g.gainFor(ctx, song, stream)
	if !ok {
		return nil
	}
	applied, err := player.ApplyReplayGain(ctx, g.Player, song, gain, 0, -1)
	if err != nil {
		log.Warn().Err(err).Str("song", song.Display()).Msg("Failed to apply replay gain")
		return nil
	}
	log.Debug().Bool("applied", applied).Float64("gain_db", gain).Str("song", song.Display()).Msg("Replay gain")
	return nil
}

func (g *gainPlayer) gainFor(ctx context.Context, song media.Song, stream media.StreamCandidate) (float64, bool) {
	if stream.Loudness != 0 {
		return player.GainForStream(stream), true
	}
	if song.Source != media.SourceLocal || g.probe == nil {
		return 0, false
	}
	u, err := url.Parse(stream.URL)
	if err != nil || u.Scheme != "file" {
		return 0, false
	}
	return g.probe.ComputeReplayGain(ctx, u.Path), true
}

func (a *App) updateSongInfo(ctx context.Context) {
	song, err := a.player.ActiveTrack(ctx)
	if err != nil {
		a.mutex.Lock()
		changed := !a.idle
		a.idle = true
		a.currentSong = ""
		a.mutex.Unlock()
		if changed {
			a.stopScheduler()
			a.hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: noMusicPlaying})
		}
		return
	}

	a.mutex.Lock()
	if song.Key() == a.currentSong {
		a.mutex.Unlock()
		return
	}
	log.Info().Msg("-----------------------------------------------------")
	log.Info().Str("song", song.Display()).Msg("New song detected")
	a.currentSong = song.Key()
	a.idle = false
	a.mutex.Unlock()

	a.hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: fmt.Sprintf("... Searching for lyrics for %s ...", song.Display())})

	lctx, cancel := context.WithTimeout(ctx, lyricTimeout)
	defer cancel()

	var result lyrics.Result
	if song.Lyric != "" {
		result = lyrics.Result{Text: song.Lyric, Found: true, Title: song.Name, Source: string(song.Source), Query: lyrics.QueryFromSong(song)}
	} else {
		result = a.lyrics.AutoLyric(lctx, lyrics.QueryFromSong(song))
	}

	// 获取期间切歌则丢弃
	a.mutex.Lock()
	stale := a.currentSong != song.Key()
	if !stale {
		a.currentQuery = result.Query
	}
	a.mutex.Unlock()
	if stale {
		return
	}
	a.showLyric(result)
}

// showLyric 推送完整歌词并开始逐行调度
func (a *App) showLyric(result lyrics.Result) {
	a.hub.Broadcast(ipc.Event{Type: ipc.EventLyric, Data: result})
	if !result.Found {
		a.stopScheduler()
		a.hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: result.Text})
		return
	}
	a.startLyricScheduler(result.Text, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return a.player.Position(ctx)
	})
}

func (a *App) stopScheduler() {
	a.schedulerMutex.Lock()
	defer a.schedulerMutex.Unlock()
	if a.schedulerCancel != nil {
		log.Info().Msg("Stopping previous lyric scheduler")
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
}

// startLyricScheduler 取消旧调度器和登记新调度器在同一把锁内完成
func (a *App) startLyricScheduler(lrc string, getCurrentTime func() float64) {
	lines := lyrics.ParseLRC(lrc)

	a.schedulerMutex.Lock()
	if a.schedulerCancel != nil {
		log.Info().Msg("Stopping previous lyric scheduler")
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if len(lines) == 0 {
		a.schedulerMutex.Unlock()
		log.Warn().Msg("No lyrics lines found, broadcasting raw text")
		a.hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: lrc})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel
	a.schedulers.Add(1)
	a.schedulerMutex.Unlock()

	log.Info().Int("lines_count", len(lines)).Msg("Starting lyric scheduler")

	go func() {
		defer a.schedulers.Done()
		defer cancel()
		defer log.Info().Msg("Lyric scheduler stopped")

		lastIndex := -2 // 确保第一次广播
		ticker := time.NewTicker(a.schedulerTick)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				// 每次都重新获取播放器时间，避免累积误差
				currentTime := getCurrentTime()
				if currentTime < 0 {
					log.Warn().Float64("player_time", currentTime).Msg("Invalid player time")
					continue
				}

				newIndex := lyrics.LineAt(lines, currentTime+timeShit)
				if newIndex != lastIndex {
					if newIndex >= 0 {
						lyric := lines[newIndex]
						timeDiff := (currentTime - lyric.Time + timeShit) * 1000
						ev := log.Debug()
						if timeDiff > 100 {
							ev = log.Warn()
						}
						ev.Int("index", newIndex).
							Float64("player_time", currentTime).
							Float64("time_diff_ms", timeDiff).
							Str("lyric", lyric.Text).
							Msg("Broadcasting lyric")
						a.hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: lyric.Text})
					} else if lastIndex != -1 {
						a.hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: lyricStarting})
					}
					lastIndex = newIndex
				}

				if currentTime > lines[len(lines)-1].Time+5.0 {
					log.Info().
						Float64("current_time", currentTime).
						Float64("last_lyric_time", lines[len(lines)-1].Time).
						Msg("Song finished")
					a.hub.Broadcast(ipc.Event{Type: ipc.EventLyricLine, Data: lyricFinished})
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}
