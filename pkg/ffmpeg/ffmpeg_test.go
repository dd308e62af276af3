package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/pkg/media"
)

// writeScript 写一个假的可执行文件替代 ffmpeg/ffprobe
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return p
}

func TestParseReplayGainLog(t *testing.T) {
	log := strings.Join([]string{
		"Input #0, mp3, from 'a.mp3':",
		"[Parsed_replaygain_0 @ 0x7f] track_gain = -6.52 dB",
		"[Parsed_replaygain_0 @ 0x7f] track_peak = 0.98",
	}, "\n")
	assert.Equal(t, -6.52, ParseReplayGainLog(log))

	assert.Equal(t, 0.0, ParseReplayGainLog("nothing here"))
	assert.Equal(t, 1.5, ParseReplayGainLog("[Parsed_replaygain_0 @ 0x1] track_gain = +1.50 dB"))
}

func TestProbeMetadata(t *testing.T) {
	dir := t.TempDir()
	probe := writeScript(t, dir, "ffprobe", `cat <<'JSON'
{"format":{"filename":"/music/a.flac","format_name":"flac","duration":"245.333","bit_rate":"912000","size":"27000000",
"tags":{"TITLE":"晴天","ARTIST":"周杰伦","album":"叶惠美"}}}
JSON`)

	p := NewProcessor(filepath.Join(dir, "ffmpeg"), probe, "", dir)
	meta, err := p.ProbeMetadata(context.Background(), "/music/a.flac")
	require.NoError(t, err)

	assert.Equal(t, "flac", meta.FormatName)
	assert.InDelta(t, 245.333, meta.Duration, 0.001)
	assert.Equal(t, int64(912000), meta.BitRate)
	assert.Equal(t, "晴天", meta.Tag("title"))
	assert.Equal(t, "周杰伦", meta.Tag("Artist"))
	assert.Equal(t, "叶惠美", meta.Tag("ALBUM"))
}

func TestProbeMetadataFailure(t *testing.T) {
	dir := t.TempDir()
	probe := writeScript(t, dir, "ffprobe", "echo boom >&2; exit 1")

	p := NewProcessor("", probe, "", dir)
	_, err := p.ProbeMetadata(context.Background(), "/missing")
	assert.ErrorIs(t, err, media.ErrNativeModule)
}

func TestComputeReplayGain(t *testing.T) {
	dir := t.TempDir()
	ff := writeScript(t, dir, "ffmpeg", `echo "[Parsed_replaygain_0 @ 0x55] track_gain = -3.20 dB" >&2`)

	p := NewProcessor(ff, "", "", dir)
	assert.Equal(t, -3.2, p.ComputeReplayGain(context.Background(), "a.mp3"))
}

func TestTranscodeToMP3(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	// 把参数记下来，并创建最后一个参数对应的输出文件
	ff := writeScript(t, dir, "ffmpeg", `echo "$@" >> `+argsFile+`
for last; do :; done
touch "$last"`)

	src := filepath.Join(dir, "song.m4a")
	require.NoError(t, os.WriteFile(src, []byte("audio"), 0644))

	p := NewProcessor(ff, "", "192k", dir)
	out, err := p.TranscodeToMP3(context.Background(), src, &media.Song{Name: "晴天", Singer: "周杰伦", Album: "叶惠美"}, true)
	require.NoError(t, err)

	assert.Equal(t, src+".mp3", out)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-ab 192k")
	assert.Contains(t, string(args), "title=晴天")
	assert.Contains(t, string(args), "artist=周杰伦")
}

func TestExtractCoverArt(t *testing.T) {
	dir := t.TempDir()
	ff := writeScript(t, dir, "ffmpeg", `for last; do :; done
printf 'jpeg' > "$last"`)

	p := NewProcessor(ff, "", "", dir)
	cover, ok := p.ExtractCoverArt(context.Background(), "a.flac")
	require.True(t, ok)
	assert.Equal(t, p.CoverPath(), cover)

	failing := NewProcessor(writeScript(t, dir, "ffmpeg-fail", "exit 1"), "", "", dir)
	_, ok = failing.ExtractCoverArt(context.Background(), "a.flac")
	assert.False(t, ok)
}

func TestCacheCoverArt(t *testing.T) {
	dir := t.TempDir()
	countFile := filepath.Join(dir, "count")
	ff := writeScript(t, dir, "ffmpeg", `echo x >> `+countFile+`
for last; do :; done
printf 'jpeg' > "$last"`)

	p := NewProcessor(ff, "", "", filepath.Join(dir, "tmp"))
	covers := filepath.Join(dir, "covers")
	cover, ok := p.CacheCoverArt(context.Background(), "/music/a.flac", covers)
	require.True(t, ok)
	assert.Equal(t, covers, filepath.Dir(cover))
	data, err := os.ReadFile(cover)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	// 第二次直接用缓存
	again, ok := p.CacheCoverArt(context.Background(), "/music/a.flac", covers)
	require.True(t, ok)
	assert.Equal(t, cover, again)
	count, err := os.ReadFile(countFile)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(count))

	other, ok := p.CacheCoverArt(context.Background(), "/music/b.flac", covers)
	require.True(t, ok)
	assert.NotEqual(t, cover, other)
}

func TestNewProcessorCreatesTempDir(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "cache", "tmp")
	NewProcessor("ffmpeg", "", "", tmp)
	info, err := os.Stat(tmp)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCoverExt(t *testing.T) {
	assert.Equal(t, "png", coverExt("https://a/b/c.png?x=1"))
	assert.Equal(t, "jpg", coverExt("https://a/b/c"))
}
