package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"nox-backend/internal/app"
	"nox-backend/internal/config"
	"nox-backend/internal/lyrics"
	"nox-backend/internal/player"
	"nox-backend/internal/search"
	"nox-backend/pkg/media"
)

var (
	searchSource string
	searchExtra  []string
	searchFast   bool
	searchTag    bool
	searchPlay   bool

	lyricArtist string
	lyricByMid  bool

	transcodeTitle  string
	transcodeArtist string
	transcodeAlbum  string
	transcodeCover  string
	transcodeUnlink bool
)

var searchCmd = &cobra.Command{
	Use:   "search <关键词或链接>",
	Short: "搜索歌曲并打印搜索歌单",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := strings.Join(args, " ")

		return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
			opts, err := searchOptions(cmd, svc.Config.Search)
			if err != nil {
				return err
			}

			var dopts []search.Option
			if searchPlay {
				dopts = append(dopts, search.WithPlayer(svc.NewPlayer(player.NewPlayerctl(nil))))
			}
			d := svc.NewDispatcher(dopts...)

			var playlist *media.SearchResultPlaylist
			if searchPlay {
				playlist, err = d.SearchAndPlay(ctx, input, opts)
			} else {
				playlist, err = d.Search(ctx, input, opts)
			}
			if playlist != nil {
				if perr := printJSON(cmd.OutOrStdout(), playlist); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

// searchOptions 未在命令行给出的选项取配置中的默认值
func searchOptions(cmd *cobra.Command, defaults config.SearchConfig) (search.Options, error) {
	opts := search.Options{UseTagFilter: defaults.UseTagFilter, FastMode: defaults.FastMode}
	flags := cmd.Flags()
	if flags.Changed("tag") {
		opts.UseTagFilter = searchTag
	}
	if flags.Changed("fast") {
		opts.FastMode = searchFast
	}
	if searchSource != "" {
		src, err := media.ParseSource(searchSource)
		if err != nil {
			return opts, err
		}
		opts.Source = src
	}
	if !flags.Changed("also") {
		opts.Sources = append(opts.Sources, defaults.ExtraSources...)
		return opts, nil
	}
	for _, name := range searchExtra {
		src, err := media.ParseSource(name)
		if err != nil {
			return opts, err
		}
		opts.Sources = append(opts.Sources, src)
	}
	return opts, nil
}

var lyricsCmd = &cobra.Command{
	Use:   "lyrics <歌名>",
	Short: "获取歌词：先查映射文件，再按歌名和歌手自动查询",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")
		return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
			res := svc.Lyrics.FetchLRC(ctx, name)
			if !res.Found {
				res = svc.Lyrics.AutoLyric(ctx, lyrics.Query{Title: name, Artist: lyricArtist})
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var lyricsQQCmd = &cobra.Command{
	Use:   "qq <关键词|songMid>",
	Short: "在 QQ 音乐中搜索歌词候选，--mid 时直接获取歌词",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.Join(args, " ")
		return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
			if lyricByMid {
				return printJSON(cmd.OutOrStdout(), svc.Lyrics.SearchLyric(ctx, key))
			}
			options, err := svc.Lyrics.SearchLyricOptions(ctx, key)
			if err != nil {
				return err
			}
			for _, opt := range options {
				fmt.Printf("%s\t%s\n", opt.SongMid, opt.Label)
			}
			return nil
		})
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <文件>",
	Short: "用 ffprobe 读取元数据并计算音量增益",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
			if !svc.FFmpeg.Available() {
				return fmt.Errorf("ffmpeg or ffprobe not found")
			}
			md, err := svc.FFmpeg.ProbeMetadata(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"metadata":   md,
				"replayGain": svc.FFmpeg.ComputeReplayGain(ctx, args[0]),
			})
		})
	},
}

var transcodeCmd = &cobra.Command{
	Use:   "transcode <文件>",
	Short: "转码为 mp3 并写入标签，未指定标签时沿用原文件的元数据",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
			if !svc.FFmpeg.Available() {
				return fmt.Errorf("ffmpeg or ffprobe not found")
			}
			song := media.Song{Name: transcodeTitle, Singer: transcodeArtist, Album: transcodeAlbum, Cover: transcodeCover}
			if md, err := svc.FFmpeg.ProbeMetadata(ctx, args[0]); err == nil {
				song.Name = orDefault(song.Name, md.Tag("title"))
				song.Singer = orDefault(song.Singer, md.Tag("artist"))
				song.Album = orDefault(song.Album, md.Tag("album"))
			}
			out, err := svc.FFmpeg.TranscodeToMP3(ctx, args[0], &song, transcodeUnlink)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		})
	},
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "本地媒体库",
}

var libraryScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "扫描媒体库目录并更新索引",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
			if svc.Library == nil {
				return fmt.Errorf("local.library_root is not configured")
			}
			stats, err := svc.Library.Scan(ctx)
			if err != nil {
				return err
			}
			count, err := svc.Library.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("indexed=%d unchanged=%d removed=%d failed=%d total=%d\n",
				stats.Indexed, stats.Unchanged, stats.Removed, stats.Failed, count)
			return nil
		})
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	searchCmd.Flags().StringVarP(&searchSource, "source", "s", "", "关键词搜索使用的来源 (bilibili, youtube, local, musicfree)")
	searchCmd.Flags().StringSliceVar(&searchExtra, "also", nil, "额外查询的来源")
	searchCmd.Flags().BoolVar(&searchFast, "fast", false, "快速模式，只取第一页")
	searchCmd.Flags().BoolVar(&searchTag, "tag", false, "按标签过滤结果")
	searchCmd.Flags().BoolVar(&searchPlay, "play", false, "搜索后播放第一首")

	lyricsCmd.Flags().StringVarP(&lyricArtist, "artist", "a", "", "歌手，自动查询时使用")
	lyricsQQCmd.Flags().BoolVar(&lyricByMid, "mid", false, "参数为 songMid，直接获取歌词")
	lyricsCmd.AddCommand(lyricsQQCmd)

	transcodeCmd.Flags().StringVar(&transcodeTitle, "title", "", "标题")
	transcodeCmd.Flags().StringVar(&transcodeArtist, "artist", "", "歌手")
	transcodeCmd.Flags().StringVar(&transcodeAlbum, "album", "", "专辑")
	transcodeCmd.Flags().StringVar(&transcodeCover, "cover", "", "封面图片地址，下载后嵌入")
	transcodeCmd.Flags().BoolVar(&transcodeUnlink, "unlink", false, "转码后删除原文件")

	libraryCmd.AddCommand(libraryScanCmd)

	rootCmd.AddCommand(searchCmd, lyricsCmd, probeCmd, transcodeCmd, libraryCmd)
}
