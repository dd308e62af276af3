package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/pkg/media"
	"nox-backend/pkg/musicfree"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg-cache")
	t.Setenv("NOX_AI_API_KEY", "")

	cfg := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))

	assert.Equal(t, DefaultSocketPath, cfg.App.SocketPath)
	assert.Equal(t, DefaultCheckInterval, cfg.App.CheckInterval)
	assert.Equal(t, "/tmp/xdg-cache/nox", cfg.App.CacheDir)
	assert.Equal(t, "/tmp/xdg-cache/nox/library.db", cfg.Local.Database)
	assert.Equal(t, media.SourceBilibili, cfg.Search.DefaultSource)
	assert.Equal(t, []string{"netease", "lrclib", "qq"}, cfg.Lyrics.Providers)
	assert.True(t, cfg.Local.Watch)
	assert.True(t, cfg.MusicFree.Netease)
	assert.Equal(t, "192k", cfg.FFmpeg.Bitrate)
	assert.Equal(t, DefaultRedisTTL, cfg.Redis.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.I3Block.Enabled)
	assert.Equal(t, "/tmp/xdg-cache/nox/lyric_line", cfg.I3Block.File)
	assert.Equal(t, DefaultI3BlockSignal, cfg.I3Block.Signal)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
socket_path = "/run/nox.sock"
ws_addr = "127.0.0.1:8765"
check_interval = "2s"
cache_dir = "/var/cache/nox"

[search]
default_source = "youtube"
extra_sources = ["musicfree", "nope", "local"]
fast_mode = true
playlist_title = "Results"

[lyrics]
mapping_url = "http://example.com/mappings.txt"
providers = ["qq"]

[local]
library_root = "/music"
watch = false

[musicfree]
netease = false

[[musicfree.plugins]]
name = "demo"
search_url = "http://plugin/search?q={keyword}"
stream_url = "http://plugin/stream?id={id}"

[redis]
addr = "redis:6379"
db = 2
ttl = "not-a-duration"

[log]
level = "DEBUG"
file = "/var/log/nox.log"
max_size = 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NOX_AI_API_KEY=from-dotenv\n"), 0644))
	t.Setenv("NOX_AI_API_KEY", "")
	os.Unsetenv("NOX_AI_API_KEY")

	cfg := LoadFile(path)

	assert.Equal(t, "/run/nox.sock", cfg.App.SocketPath)
	assert.Equal(t, "127.0.0.1:8765", cfg.App.WSAddr)
	assert.Equal(t, 2*time.Second, cfg.App.CheckInterval)
	assert.Equal(t, "/var/cache/nox/library.db", cfg.Local.Database)

	assert.Equal(t, media.SourceYoutube, cfg.Search.DefaultSource)
	assert.Equal(t, []media.Source{media.SourceMusicFree, media.SourceLocal}, cfg.Search.ExtraSources)
	assert.True(t, cfg.Search.FastMode)
	assert.Equal(t, "Results", cfg.Search.PlaylistTitle)

	assert.Equal(t, "http://example.com/mappings.txt", cfg.Lyrics.MappingURL)
	assert.Equal(t, []string{"qq"}, cfg.Lyrics.Providers)
	assert.Equal(t, "/music", cfg.Local.LibraryRoot)
	assert.False(t, cfg.Local.Watch)

	assert.False(t, cfg.MusicFree.Netease)
	assert.Equal(t, []musicfree.PluginConfig{{
		Name:      "demo",
		SearchURL: "http://plugin/search?q={keyword}",
		StreamURL: "http://plugin/stream?id={id}",
	}}, cfg.MusicFree.Plugins)

	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, DefaultRedisTTL, cfg.Redis.TTL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/nox.log", cfg.Log.File)
	assert.Equal(t, 50, cfg.Log.MaxSize)
	assert.Equal(t, 3, cfg.Log.MaxBackups)

	assert.Equal(t, "from-dotenv", cfg.AI.APIKey)
}

func TestLoadFileInvalidToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[app\nsocket_path = "), 0644))

	cfg := LoadFile(path)
	assert.Equal(t, DefaultSocketPath, cfg.App.SocketPath)
}
