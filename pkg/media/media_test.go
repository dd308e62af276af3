package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeepsSource(t *testing.T) {
	for _, source := range Sources() {
		t.Run(string(source), func(t *testing.T) {
			song := Normalize(Descriptor{ID: "abc"}, source)
			assert.Equal(t, source, song.Source)
		})
	}
}

func TestNormalizeEmptyDescriptor(t *testing.T) {
	song := Normalize(Descriptor{}, SourceBilibili)

	assert.Equal(t, "", song.Name)
	assert.Equal(t, "", song.Singer)
	assert.Equal(t, "", song.Cover)
	assert.Equal(t, 0, song.Duration)
	assert.Equal(t, 1, song.Page)
	assert.False(t, song.MetadataOnLoad)
}

func TestNormalizeYoutube(t *testing.T) {
	song := Normalize(Descriptor{
		ID:         "dQw4w9WgXcQ",
		Title:      "Never Gonna Give You Up",
		Author:     "Rick Astley",
		AuthorID:   "UCuAXFkgsw1L7xaCfnd5JJOw",
		Thumbnails: []string{"https://i.ytimg.com/small.jpg", "https://i.ytimg.com/large.jpg"},
		DurationMs: 213040,
		Album:      "Never Gonna Give You Up",
	}, SourceYoutube)

	assert.Equal(t, "ytbvideo-dQw4w9WgXcQ", song.CID)
	assert.Equal(t, "dQw4w9WgXcQ", song.BVID)
	assert.Equal(t, "https://i.ytimg.com/large.jpg", song.Cover)
	assert.Equal(t, 213, song.Duration)
	assert.True(t, song.MetadataOnLoad)
}

func TestNormalizeBilibiliPage(t *testing.T) {
	song := Normalize(Descriptor{
		ID:              "BV1xx411c7mD",
		SubID:           "3724723",
		Title:           `<em class="keyword">欧拉</em>的歌`,
		Part:            "第二P",
		Thumbnails:      []string{"//i0.hdslb.com/bfs/archive/cover.jpg"},
		DurationSeconds: 245,
		Page:            2,
	}, SourceBilibili)

	assert.Equal(t, "欧拉的歌 - 第二P", song.Name)
	assert.Equal(t, `<em class="keyword">欧拉</em>的歌`, song.NameRaw)
	assert.Equal(t, "3724723", song.CID)
	assert.Equal(t, "bilibili-BV1xx411c7mD-2", song.ID)
	assert.Equal(t, "https://i0.hdslb.com/bfs/archive/cover.jpg", song.Cover)
	assert.Equal(t, 245, song.Duration)
}

func TestParseDurationText(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"3:25", 205},
		{"1:02:03", 3723},
		{"45", 45},
		{"", 0},
		{"ab:cd", 0},
		{"-1:00", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseDurationText(tt.in), tt.in)
	}
}

func TestSelectStream(t *testing.T) {
	formats := []Format{
		{Bitrate: 64, HasAudio: true, Codecs: "mp4a.40.5", URL: "low"},
		{Bitrate: 128, HasAudio: true, Codecs: "mp4a.40.2", URL: "mid"},
		{Bitrate: 256, HasAudio: false, Codecs: "mp4a.40.2", URL: "video-only"},
	}

	best, ok := SelectStream(formats)
	require.True(t, ok)
	assert.Equal(t, 128, best.Bitrate)
	assert.Equal(t, "mid", best.URL)
}

func TestSelectStreamTieAndCodec(t *testing.T) {
	formats := []Format{
		{Bitrate: 160, HasAudio: true, Codecs: "opus", URL: "opus"},
		{Bitrate: 128, HasAudio: true, Codecs: "mp4a.40.2", URL: "first"},
		{Bitrate: 128, HasAudio: true, Codecs: "mp4a.40.2", URL: "second"},
	}

	best, ok := SelectStream(formats)
	require.True(t, ok)
	assert.Equal(t, "first", best.URL)

	_, ok = SelectStream([]Format{{Bitrate: 10, HasAudio: true, Codecs: "opus"}})
	assert.False(t, ok)
}

type stubResolver struct{ source Source }

func (s stubResolver) Source() Source { return s.source }

func (s stubResolver) ResolveSearch(ctx context.Context, input string, opts SearchOptions) ([]Song, error) {
	return nil, nil
}

func (s stubResolver) ResolveStream(ctx context.Context, song Song) (*StreamCandidate, error) {
	return nil, ErrUnsupported
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(stubResolver{SourceLocal}, stubResolver{SourceBilibili})

	res, err := reg.Get(SourceBilibili)
	require.NoError(t, err)
	assert.Equal(t, SourceBilibili, res.Source())

	_, err = reg.Get(SourceYoutube)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Equal(t, []Source{SourceBilibili, SourceLocal}, reg.Sources())
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("YouTube")
	require.NoError(t, err)
	assert.Equal(t, SourceYoutube, s)

	_, err = ParseSource("spotify")
	assert.Error(t, err)
}
