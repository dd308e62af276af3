package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/pkg/fetch"
	"nox-backend/pkg/media"
)

const playerJSON = `{
  "playabilityStatus": {"status": "OK"},
  "videoDetails": {
    "videoId": "dQw4w9WgXcQ", "title": "Never Gonna Give You Up", "author": "Rick Astley",
    "channelId": "UCuAXFkgsw1L7xaCfnd5JJOw", "lengthSeconds": "213",
    "thumbnail": {"thumbnails": [{"url": "https://i.ytimg.com/s.jpg"}, {"url": "https://i.ytimg.com/l.jpg"}]}
  },
  "streamingData": {"adaptiveFormats": [
    {"itag": 137, "mimeType": "video/mp4; codecs=\"avc1.640028\"", "bitrate": 4000000, "url": "http://v/video"},
    {"itag": 139, "mimeType": "audio/mp4; codecs=\"mp4a.40.5\"", "bitrate": 64000, "approxDurationMs": "213041", "audioQuality": "AUDIO_QUALITY_LOW", "url": "http://v/139"},
    {"itag": 140, "mimeType": "audio/mp4; codecs=\"mp4a.40.2\"", "bitrate": 128000, "approxDurationMs": "213087", "audioQuality": "AUDIO_QUALITY_MEDIUM", "url": "http://v/140"},
    {"itag": 251, "mimeType": "audio/webm; codecs=\"opus\"", "bitrate": 160000, "approxDurationMs": "213061", "audioQuality": "AUDIO_QUALITY_MEDIUM", "url": "http://v/251"}
  ]},
  "playerConfig": {"audioConfig": {"loudnessDb": 1.25, "perceptualLoudnessDb": -12.75}}
}`

func newTestClient(t *testing.T, body string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VideoID string `json:"videoId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dQw4w9WgXcQ", req.VideoID)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return &Client{http: fetch.NewClient(time.Second, 0), playerURL: server.URL}
}

func TestIsDirect(t *testing.T) {
	assert.True(t, IsDirect("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.True(t, IsDirect("https://music.youtube.com/watch?v=dQw4w9WgXcQ&list=RD"))
	assert.True(t, IsDirect("https://youtu.be/dQw4w9WgXcQ"))
	assert.False(t, IsDirect("dQw4w9WgXcQ"))
	assert.False(t, IsDirect("never gonna give you up"))
}

func TestResolveSearchBuildsSingleSong(t *testing.T) {
	c := newTestClient(t, playerJSON)

	songs, err := c.ResolveSearch(context.Background(), "https://youtu.be/dQw4w9WgXcQ", media.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, songs, 1)

	song := songs[0]
	assert.Equal(t, "ytbvideo-dQw4w9WgXcQ", song.CID)
	assert.Equal(t, "dQw4w9WgXcQ", song.BVID)
	assert.Equal(t, "Never Gonna Give You Up", song.Name)
	assert.Equal(t, "Never Gonna Give You Up", song.Album)
	assert.Equal(t, "Rick Astley", song.Singer)
	assert.Equal(t, "UCuAXFkgsw1L7xaCfnd5JJOw", song.SingerID)
	assert.Equal(t, "https://i.ytimg.com/l.jpg", song.Cover)
	assert.Equal(t, 213, song.Duration)
	assert.Equal(t, 1, song.Page)
	assert.True(t, song.MetadataOnLoad)
	assert.Equal(t, media.SourceYoutube, song.Source)
}

func TestResolveSearchKeywordUnsupported(t *testing.T) {
	c := &Client{}
	_, err := c.ResolveSearch(context.Background(), "never gonna give you up", media.SearchOptions{})
	assert.ErrorIs(t, err, media.ErrUnsupported)
}

func TestResolveStream(t *testing.T) {
	c := newTestClient(t, playerJSON)

	stream, err := c.ResolveStream(context.Background(), media.Song{BVID: "dQw4w9WgXcQ", Source: media.SourceYoutube})
	require.NoError(t, err)
	assert.Equal(t, "http://v/140", stream.URL)
	assert.Equal(t, 128000, stream.Bitrate)
	assert.Equal(t, "mp4a.40.2", stream.Codec)
	assert.Equal(t, 1.25, stream.Loudness)
	assert.Equal(t, -12.75, stream.PerceivedLoudness)
}

func TestResolveUnplayable(t *testing.T) {
	c := newTestClient(t, `{"playabilityStatus":{"status":"LOGIN_REQUIRED","reason":"Sign in"}}`)

	_, err := c.ResolveSearch(context.Background(), "dQw4w9WgXcQ", media.SearchOptions{})
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestCodecsOf(t *testing.T) {
	assert.Equal(t, "mp4a.40.2", codecsOf(`audio/mp4; codecs="mp4a.40.2"`))
	assert.Equal(t, "", codecsOf("audio/mp4"))
}
