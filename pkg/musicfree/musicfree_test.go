package musicfree

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/pkg/media"
)

// stubSource 返回固定结果的插件
type stubSource struct {
	name   string
	tracks []Track
	err    error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Search(ctx context.Context, keyword string) ([]Track, error) {
	return s.tracks, s.err
}

func (s *stubSource) StreamURL(ctx context.Context, trackID string) (string, error) {
	return "http://stream/" + s.name + "/" + trackID, nil
}

func TestResolveSearchMergesInOrderAndSkipsFailures(t *testing.T) {
	r := NewResolver(
		&stubSource{name: "a", tracks: []Track{{ID: "1", Title: "晴天", Artist: "周杰伦", DurationSeconds: 269, Artwork: "//img/a.jpg"}}},
		&stubSource{name: "broken", err: errors.New("boom")},
		&stubSource{name: "b", tracks: []Track{{ID: "1", Title: "晴天 (Live)", DurationMs: 280500}}},
	)

	var progress []float64
	ctx := media.WithProgress(context.Background(), func(v float64) { progress = append(progress, v) })

	songs, err := r.ResolveSearch(ctx, " 晴天 ", media.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, songs, 2)

	assert.Equal(t, "a:1", songs[0].BVID)
	assert.Equal(t, "musicfree-a:1", songs[0].CID)
	assert.Equal(t, media.SourceMusicFree, songs[0].Source)
	assert.Equal(t, "https://img/a.jpg", songs[0].Cover)
	assert.Equal(t, 269, songs[0].Duration)
	assert.Equal(t, 280, songs[1].Duration)
	assert.NotEqual(t, songs[0].Key(), songs[1].Key())

	require.Len(t, progress, 3)
	assert.InDelta(t, 1.0/3, progress[0], 1e-9)
	assert.Equal(t, 1.0, progress[2])
}

func TestResolveSearchWithoutPlugins(t *testing.T) {
	_, err := NewResolver().ResolveSearch(context.Background(), "x", media.SearchOptions{})
	assert.ErrorIs(t, err, media.ErrUnsupported)
}

func TestResolveStreamRoutesToPlugin(t *testing.T) {
	r := NewResolver(&stubSource{name: "a"}, &stubSource{name: "b"})

	stream, err := r.ResolveStream(context.Background(), media.Song{BVID: "b:42"})
	require.NoError(t, err)
	assert.Equal(t, "http://stream/b/42", stream.URL)

	_, err = r.ResolveStream(context.Background(), media.Song{BVID: "c:1"})
	assert.ErrorIs(t, err, media.ErrUnsupported)

	_, err = r.ResolveStream(context.Background(), media.Song{BVID: "nocolon"})
	assert.ErrorIs(t, err, media.ErrParse)
}

func TestHTTPPlugin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			assert.Equal(t, "晴天", r.URL.Query().Get("q"))
			w.Write([]byte(`{"data":[{"id":"x1","title":"晴天","artist":"周杰伦","album":"叶惠美","artwork":"http://a.jpg","duration":269.4},{"title":"no id"}]}`))
		case "/stream":
			assert.Equal(t, "x1", r.URL.Query().Get("id"))
			w.Write([]byte(`{"url":"http://cdn/x1.mp3"}`))
		}
	}))
	defer server.Close()

	p, err := NewHTTPPlugin(PluginConfig{
		Name:      "demo",
		SearchURL: server.URL + "/search?q={keyword}",
		StreamURL: server.URL + "/stream?id={id}",
	})
	require.NoError(t, err)

	tracks, err := p.Search(context.Background(), "晴天")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, Track{ID: "x1", Title: "晴天", Artist: "周杰伦", Album: "叶惠美", Artwork: "http://a.jpg", DurationSeconds: 269}, tracks[0])

	u, err := p.StreamURL(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/x1.mp3", u)
}

func TestNewHTTPPluginValidates(t *testing.T) {
	_, err := NewHTTPPlugin(PluginConfig{Name: "x", SearchURL: "http://no-placeholder"})
	assert.Error(t, err)
	_, err = NewHTTPPlugin(PluginConfig{SearchURL: "http://a/{keyword}"})
	assert.Error(t, err)
}
