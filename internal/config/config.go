package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(getenv(key, strconv.Itoa(def))))
	if err != nil {
		return def
	}
	return v
}

func getbool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

// ClampVolume bounds a volume percentage to 0..200.
func ClampVolume(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 200 {
		return 200
	}
	return percent
}

// ParseLogLevel accepts error, warn, info and debug. Anything else is info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func LoadConfig() (*Config, error) {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		DataDir:               getenv("DATA_DIR", "./data"),
		BotActivity:           getenv("BOT_ACTIVITY", "music"),
		CommandPrefix:         getenv("COMMAND_PREFIX", "!"),
		RegisterCommandsOnBot: getbool("REGISTER_COMMANDS_ON_BOT", false),

		DefaultVolumePercent:  ClampVolume(getint("DEFAULT_VOLUME", 100)),
		IdleDisconnectSeconds: getint("IDLE_DISCONNECT_SECONDS", 300),
		StreamStartTimeout:    time.Duration(getint("STREAM_START_TIMEOUT_MS", 15000)) * time.Millisecond,
		PlaylistLimit:         getint("PLAYLIST_LIMIT", 0),
		PlaylistPrefetch:      getint("PLAYLIST_PREFETCH", 5),

		YtDlpCookies:     os.Getenv("YTDLP_COOKIES"),
		YtDlpProxy:       os.Getenv("YTDLP_PROXY"),
		YtDlpAutoInstall: getbool("YTDLP_AUTO_INSTALL", false),

		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),

		SponsorBlock:        getbool("SPONSORBLOCK", false),
		SponsorBlockBackoff: time.Duration(getint("SPONSORBLOCK_BACKOFF_MINUTES", 5)) * time.Minute,

		LogLevel: ParseLogLevel(getenv("LOG_LEVEL", "info")),

		HealthcheckPath:     os.Getenv("HEALTHCHECK_PATH"),
		HealthcheckInterval: time.Duration(getint("HEALTHCHECK_INTERVAL_SECONDS", 30)) * time.Second,
		HealthcheckMaxAge:   time.Duration(getint("HEALTHCHECK_MAX_AGE_SECONDS", 120)) * time.Second,

		ErrorChannelID:       os.Getenv("ERROR_CHANNEL_ID"),
		ErrorNotifyPerMinute: getint("ERROR_NOTIFY_PER_MINUTE", 6),
	}

	// 0 waits for the stream without a deadline
	if cfg.StreamStartTimeout < 0 {
		cfg.StreamStartTimeout = 0
	}
	if cfg.PlaylistPrefetch <= 0 {
		cfg.PlaylistPrefetch = 5
	}
	if cfg.PlaylistLimit > 0 && cfg.PlaylistPrefetch > cfg.PlaylistLimit {
		cfg.PlaylistPrefetch = cfg.PlaylistLimit
	}

	if cfg.DiscordToken == "" {
		return nil, ErrConfig("DISCORD_TOKEN required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, ErrConfig("cannot create DATA_DIR: " + err.Error())
	}
	return cfg, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
