package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"nox-backend/internal/ipc"
	"nox-backend/internal/lyrics"
	"nox-backend/internal/search"
	"nox-backend/pkg/media"
)

// 未给出的 sources/useTagFilter/fastMode 取配置中的默认值
type searchPayload struct {
	Input        string   `json:"input"`
	Source       string   `json:"source"`
	Sources      []string `json:"sources"`
	UseTagFilter *bool    `json:"useTagFilter"`
	FastMode     *bool    `json:"fastMode"`
	Play         bool     `json:"play"`
}

// playPayload 给出歌曲，或最近一次搜索结果中的序号
type playPayload struct {
	Song  *media.Song `json:"song"`
	Index *int        `json:"index"`
}

type lyricPayload struct {
	Name     string  `json:"name"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Duration float64 `json:"duration"`
}

type lyricSearchPayload struct {
	Key string `json:"key"`
}

// lyricPickPayload 未给出 query 时使用当前歌曲
type lyricPickPayload struct {
	SongMid string        `json:"songMid"`
	Query   *lyrics.Query `json:"query"`
}

func (a *App) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.hub.Commands():
			a.handleCommand(ctx, cmd)
		}
	}
}

// handleCommand 串行解析命令，耗时操作在后台执行
func (a *App) handleCommand(ctx context.Context, cmd ipc.Command) {
	l := log.With().Str("cmd", cmd.Type).Str("id", cmd.ID).Logger()
	l.Debug().RawJSON("payload", orEmpty(cmd.Payload)).Msg("Command received")

	var run func(context.Context) error
	switch cmd.Type {
	case ipc.CmdSearch:
		var p searchPayload
		if err := decode(cmd, &p); err != nil {
			a.replyError(cmd, err)
			return
		}
		opts, err := a.searchOptions(p)
		if err != nil {
			a.replyError(cmd, err)
			return
		}
		run = func(ctx context.Context) error {
			var err error
			if p.Play {
				_, err = a.dispatcher.SearchAndPlay(ctx, p.Input, opts)
			} else {
				_, err = a.dispatcher.Search(ctx, p.Input, opts)
			}
			return err
		}
	case ipc.CmdPlay:
		var p playPayload
		if err := decode(cmd, &p); err != nil {
			a.replyError(cmd, err)
			return
		}
		song, err := a.songFor(p)
		if err != nil {
			a.replyError(cmd, err)
			return
		}
		run = func(ctx context.Context) error { return a.dispatcher.Play(ctx, song) }
	case ipc.CmdShare:
		var item search.ShareItem
		if err := decode(cmd, &item); err != nil {
			a.replyError(cmd, err)
			return
		}
		run = func(ctx context.Context) error {
			handled, err := a.dispatcher.HandleShare(ctx, item)
			l.Debug().Bool("handled", handled).Msg("Share processed")
			return err
		}
	case ipc.CmdLyric:
		var p lyricPayload
		if err := decode(cmd, &p); err != nil {
			a.replyError(cmd, err)
			return
		}
		run = func(ctx context.Context) error {
			var result lyrics.Result
			if p.Name != "" {
				result = a.lyrics.FetchLRC(ctx, p.Name)
			} else {
				result = a.lyrics.AutoLyric(ctx, lyrics.Query{Title: p.Title, Artist: p.Artist, Duration: p.Duration})
			}
			cmd.Reply(ipc.Event{Type: ipc.EventLyric, ID: cmd.ID, Data: result})
			return nil
		}
	case ipc.CmdLyricSearch:
		var p lyricSearchPayload
		if err := decode(cmd, &p); err != nil {
			a.replyError(cmd, err)
			return
		}
		run = func(ctx context.Context) error {
			options, err := a.lyrics.SearchLyricOptions(ctx, p.Key)
			if err != nil {
				return err
			}
			cmd.Reply(ipc.Event{Type: ipc.EventLyricOptions, ID: cmd.ID, Data: options})
			return nil
		}
	case ipc.CmdLyricPick:
		var p lyricPickPayload
		if err := decode(cmd, &p); err != nil {
			a.replyError(cmd, err)
			return
		}
		if p.SongMid == "" {
			a.replyError(cmd, errors.New("songMid is required"))
			return
		}
		q := a.pickQuery(p)
		run = func(ctx context.Context) error {
			result := a.lyrics.PickLyric(ctx, q, p.SongMid)
			a.showLyric(result)
			return nil
		}
	default:
		a.replyError(cmd, fmt.Errorf("unknown command: %s", cmd.Type))
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		rctx, cancel := context.WithTimeout(ctx, lyricTimeout)
		defer cancel()
		if err := run(rctx); err != nil {
			if errors.Is(err, media.ErrSuperseded) {
				l.Debug().Msg("Command result superseded")
				return
			}
			l.Warn().Err(err).Msg("Command failed")
			a.replyError(cmd, err)
		}
	}()
}

func (a *App) songFor(p playPayload) (media.Song, error) {
	if p.Song != nil {
		return *p.Song, nil
	}
	if p.Index == nil {
		return media.Song{}, errors.New("song or index is required")
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if *p.Index < 0 || *p.Index >= len(a.lastResults) {
		return media.Song{}, fmt.Errorf("index %d out of range: %w", *p.Index, media.ErrNotFound)
	}
	return a.lastResults[*p.Index], nil
}

func (a *App) pickQuery(p lyricPickPayload) lyrics.Query {
	if p.Query != nil {
		return *p.Query
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.currentQuery
}

func (a *App) searchOptions(p searchPayload) (search.Options, error) {
	defaults := a.cfg.Search
	opts := search.Options{
		UseTagFilter: defaults.UseTagFilter,
		FastMode:     defaults.FastMode,
	}
	if p.Sources == nil {
		opts.Sources = append(opts.Sources, defaults.ExtraSources...)
	}
	if p.UseTagFilter != nil {
		opts.UseTagFilter = *p.UseTagFilter
	}
	if p.FastMode != nil {
		opts.FastMode = *p.FastMode
	}
	if p.Source != "" {
		src, err := media.ParseSource(p.Source)
		if err != nil {
			return opts, err
		}
		opts.Source = src
	}
	for _, name := range p.Sources {
		src, err := media.ParseSource(name)
		if err != nil {
			return opts, err
		}
		opts.Sources = append(opts.Sources, src)
	}
	return opts, nil
}

func decode(cmd ipc.Command, v any) error {
	if len(cmd.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", cmd.Type, err)
	}
	return nil
}

func (a *App) replyError(cmd ipc.Command, err error) {
	if cmd.Reply == nil {
		return
	}
	cmd.Reply(ipc.Event{Type: ipc.EventError, ID: cmd.ID, Data: err.Error()})
}

func orEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
