package config

import (
	"log/slog"
	"time"
)

type Config struct {
	DiscordToken          string
	DataDir               string
	BotActivity           string
	CommandPrefix         string
	RegisterCommandsOnBot bool

	// Playback defaults. Per-guild settings in the repository override these.
	DefaultVolumePercent  int
	IdleDisconnectSeconds int
	StreamStartTimeout    time.Duration
	PlaylistLimit         int // <= 0 means unbounded
	PlaylistPrefetch      int

	YtDlpCookies     string
	YtDlpProxy       string
	YtDlpAutoInstall bool

	SpotifyClientID     string
	SpotifyClientSecret string

	// SponsorBlock trims off-topic intros and outros from YouTube tracks.
	SponsorBlock        bool
	SponsorBlockBackoff time.Duration

	LogLevel slog.Level

	HealthcheckPath     string
	HealthcheckInterval time.Duration
	HealthcheckMaxAge   time.Duration

	ErrorChannelID       string
	ErrorNotifyPerMinute int
}

func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}
