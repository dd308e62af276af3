package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/media"
	"nox-backend/pkg/musicfree"
)

const (
	DefaultSocketPath    = "/tmp/nox_backend.sock"
	DefaultCheckInterval = 5 * time.Second
	DefaultRedisTTL      = 24 * time.Hour
	DefaultI3BlockSignal = 55 // SIGRTMIN+21
	appName              = "nox"
)

func getDefaultCacheDir() string {
	// 优先使用 XDG_CACHE_HOME 环境变量
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "nox_cache"
	}
	return filepath.Join(homeDir, ".cache", appName)
}

// TomlConfig TOML配置文件结构
type TomlConfig struct {
	App struct {
		SocketPath    string `toml:"socket_path"`
		WSAddr        string `toml:"ws_addr"`
		CheckInterval string `toml:"check_interval"`
		CacheDir      string `toml:"cache_dir"`
	} `toml:"app"`

	Search struct {
		DefaultSource string   `toml:"default_source"`
		ExtraSources  []string `toml:"extra_sources"`
		UseTagFilter  bool     `toml:"use_tag_filter"`
		FastMode      bool     `toml:"fast_mode"`
		PlaylistTitle string   `toml:"playlist_title"`
	} `toml:"search"`

	Lyrics struct {
		MappingURL  string   `toml:"mapping_url"`
		BaseURL     string   `toml:"base_url"`
		QQSearchURL string   `toml:"qq_search_url"`
		QQLyricURL  string   `toml:"qq_lyric_url"`
		LRCLibURL   string   `toml:"lrclib_url"`
		Providers   []string `toml:"providers"`
	} `toml:"lyrics"`

	Local struct {
		LibraryRoot string `toml:"library_root"`
		Database    string `toml:"database"`
		Watch       *bool  `toml:"watch"`
	} `toml:"local"`

	FFmpeg struct {
		FFmpegPath  string `toml:"ffmpeg_path"`
		FFprobePath string `toml:"ffprobe_path"`
		Bitrate     string `toml:"bitrate"`
	} `toml:"ffmpeg"`

	MusicFree struct {
		Netease *bool                    `toml:"netease"`
		Plugins []musicfree.PluginConfig `toml:"plugins"`
	} `toml:"musicfree"`

	AI struct {
		ModuleName string `toml:"module_name"`
		APIKey     string `toml:"api_key"`
		BaseURL    string `toml:"base_url"` // for OpenAI
		Model      string `toml:"model"`
	} `toml:"ai"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		TTL      string `toml:"ttl"`
	} `toml:"redis"`

	I3Block struct {
		Enabled bool   `toml:"enabled"`
		File    string `toml:"file"`
		Signal  int    `toml:"signal"`
	} `toml:"i3block"`

	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSize    int    `toml:"max_size"`
		MaxBackups int    `toml:"max_backups"`
		MaxAge     int    `toml:"max_age"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`
}

// AppConfig 应用配置
type AppConfig struct {
	SocketPath    string
	WSAddr        string
	CheckInterval time.Duration
	CacheDir      string
}

// SearchConfig 搜索配置
type SearchConfig struct {
	DefaultSource media.Source
	ExtraSources  []media.Source
	UseTagFilter  bool
	FastMode      bool
	PlaylistTitle string
}

// LyricsConfig 歌词配置
type LyricsConfig struct {
	MappingURL  string
	BaseURL     string
	QQSearchURL string
	QQLyricURL  string
	LRCLibURL   string
	Providers   []string
}

// LocalConfig 本地媒体库配置
type LocalConfig struct {
	LibraryRoot string
	Database    string
	Watch       bool
}

// FFmpegConfig FFmpeg配置
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	Bitrate     string
}

// MusicFreeConfig 聚合源配置
type MusicFreeConfig struct {
	Netease bool
	Plugins []musicfree.PluginConfig
}

// AIConfig AI配置
type AIConfig struct {
	ModuleName string
	APIKey     string
	BaseURL    string
	Model      string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// I3BlockConfig 状态栏歌词
type I3BlockConfig struct {
	Enabled bool
	// File 当前歌词行写入的文件
	File string
	// Signal 发给 i3blocks 的信号编号
	Signal int
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config 主配置结构
type Config struct {
	App       AppConfig
	Search    SearchConfig
	Lyrics    LyricsConfig
	Local     LocalConfig
	FFmpeg    FFmpegConfig
	MusicFree MusicFreeConfig
	AI        AIConfig
	Redis     RedisConfig
	I3Block   I3BlockConfig
	Log       LogConfig
}

// Path 配置文件路径
func Path() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot get user home directory")
		return "config.toml"
	}
	return filepath.Join(homeDir, ".config", appName, "config.toml")
}

// loadTomlConfig 加载TOML配置文件，文件不存在时返回空配置
func loadTomlConfig(configPath string) (*TomlConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Info().Str("path", configPath).Msg("Config file not found, using defaults")
		return &TomlConfig{}, nil
	}

	var config TomlConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		return nil, err
	}

	log.Info().Str("path", configPath).Msg("Loaded config")
	return &config, nil
}

// loadEnv 加载配置目录和当前目录下的 .env，已存在的环境变量不覆盖
func loadEnv(configPath string) {
	for _, path := range []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to load .env")
		}
	}
}

// Load 从默认路径加载配置
func Load() *Config {
	return LoadFile(Path())
}

// LoadFile 从指定路径加载配置
func LoadFile(configPath string) *Config {
	loadEnv(configPath)

	tomlConfig, err := loadTomlConfig(configPath)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("Failed to load config file, using default configuration")
		tomlConfig = &TomlConfig{}
	}

	cacheDir := getDefaultCacheDir()
	config := &Config{
		App: AppConfig{
			SocketPath:    DefaultSocketPath,
			CheckInterval: DefaultCheckInterval,
			CacheDir:      cacheDir,
		},
		Search: SearchConfig{
			DefaultSource: media.SourceBilibili,
		},
		Lyrics: LyricsConfig{
			Providers: []string{"netease", "lrclib", "qq"},
		},
		Local: LocalConfig{
			Watch: true,
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Bitrate:     "192k",
		},
		MusicFree: MusicFreeConfig{
			Netease: true,
		},
		AI: AIConfig{
			ModuleName: "gemini",
		},
		Redis: RedisConfig{
			TTL: DefaultRedisTTL,
		},
		I3Block: I3BlockConfig{
			Signal: DefaultI3BlockSignal,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}

	t := tomlConfig
	setString(&config.App.SocketPath, t.App.SocketPath)
	setString(&config.App.WSAddr, t.App.WSAddr)
	setDuration(&config.App.CheckInterval, t.App.CheckInterval, "app.check_interval")
	setString(&config.App.CacheDir, t.App.CacheDir)

	if t.Search.DefaultSource != "" {
		if source, err := media.ParseSource(t.Search.DefaultSource); err == nil {
			config.Search.DefaultSource = source
		} else {
			log.Warn().Err(err).Msg("Invalid search.default_source, using default")
		}
	}
	for _, name := range t.Search.ExtraSources {
		source, err := media.ParseSource(name)
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid search.extra_sources entry")
			continue
		}
		config.Search.ExtraSources = append(config.Search.ExtraSources, source)
	}
	config.Search.UseTagFilter = t.Search.UseTagFilter
	config.Search.FastMode = t.Search.FastMode
	setString(&config.Search.PlaylistTitle, t.Search.PlaylistTitle)

	setString(&config.Lyrics.MappingURL, t.Lyrics.MappingURL)
	setString(&config.Lyrics.BaseURL, t.Lyrics.BaseURL)
	setString(&config.Lyrics.QQSearchURL, t.Lyrics.QQSearchURL)
	setString(&config.Lyrics.QQLyricURL, t.Lyrics.QQLyricURL)
	setString(&config.Lyrics.LRCLibURL, t.Lyrics.LRCLibURL)
	if len(t.Lyrics.Providers) > 0 {
		config.Lyrics.Providers = t.Lyrics.Providers
	}

	setString(&config.Local.LibraryRoot, t.Local.LibraryRoot)
	setString(&config.Local.Database, t.Local.Database)
	if config.Local.Database == "" {
		config.Local.Database = filepath.Join(config.App.CacheDir, "library.db")
	}
	if t.Local.Watch != nil {
		config.Local.Watch = *t.Local.Watch
	}

	setString(&config.FFmpeg.FFmpegPath, t.FFmpeg.FFmpegPath)
	setString(&config.FFmpeg.FFprobePath, t.FFmpeg.FFprobePath)
	setString(&config.FFmpeg.Bitrate, t.FFmpeg.Bitrate)

	if t.MusicFree.Netease != nil {
		config.MusicFree.Netease = *t.MusicFree.Netease
	}
	config.MusicFree.Plugins = t.MusicFree.Plugins

	setString(&config.AI.ModuleName, t.AI.ModuleName)
	setString(&config.AI.BaseURL, t.AI.BaseURL)
	setString(&config.AI.APIKey, t.AI.APIKey)
	setString(&config.AI.Model, t.AI.Model)
	setString(&config.AI.APIKey, os.Getenv("NOX_AI_API_KEY"))

	setString(&config.Redis.Addr, t.Redis.Addr)
	setString(&config.Redis.Password, t.Redis.Password)
	if t.Redis.DB != 0 {
		config.Redis.DB = t.Redis.DB
	}
	setDuration(&config.Redis.TTL, t.Redis.TTL, "redis.ttl")

	config.I3Block.Enabled = t.I3Block.Enabled
	setString(&config.I3Block.File, t.I3Block.File)
	if config.I3Block.File == "" {
		config.I3Block.File = filepath.Join(config.App.CacheDir, "lyric_line")
	}
	setInt(&config.I3Block.Signal, t.I3Block.Signal)

	setString(&config.Log.Level, strings.ToLower(t.Log.Level))
	setString(&config.Log.File, t.Log.File)
	setInt(&config.Log.MaxSize, t.Log.MaxSize)
	setInt(&config.Log.MaxBackups, t.Log.MaxBackups)
	setInt(&config.Log.MaxAge, t.Log.MaxAge)
	config.Log.Compress = t.Log.Compress

	if config.AI.APIKey == "" {
		log.Info().Str("config", configPath).Msg("No AI API key configured, titles will be parsed by rules only")
	}
	return config
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, key string) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return
	}
	*dst = d
}
