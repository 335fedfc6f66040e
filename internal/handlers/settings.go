package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/config"
	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/repository"
)

const settingsTimeout = 5 * time.Second

// SettingsStore persists per-guild settings.
type SettingsStore interface {
	UpsertSettings(ctx context.Context, guild string) (*repository.Settings, error)
	UpdateSettings(ctx context.Context, s *repository.Settings) error
}

// DefaultSettings are the process-wide settings a new guild starts with.
func DefaultSettings(cfg *config.Config) repository.Settings {
	return repository.Settings{
		DefaultVolume:         cfg.DefaultVolumePercent,
		IdleDisconnectSeconds: cfg.IdleDisconnectSeconds,
		PlaylistLimit:         cfg.PlaylistLimit,
		PlaylistPrefetch:      cfg.PlaylistPrefetch,
		AnnounceTracks:        true,
	}
}

func guildSettings(ctx context.Context, cfg *config.Config, store SettingsStore, guildID string) repository.Settings {
	if store != nil {
		set, err := store.UpsertSettings(ctx, guildID)
		if err == nil && set != nil {
			return *set
		}
		slog.Warn("load guild settings failed, using defaults", "guildID", guildID, "err", err)
	}
	set := DefaultSettings(cfg)
	set.GuildID = guildID
	return set
}

// SessionSettings adapts stored guild settings for new player sessions.
func SessionSettings(cfg *config.Config, store SettingsStore) func(guildID string) player.Settings {
	return func(guildID string) player.Settings {
		ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
		defer cancel()
		set := guildSettings(ctx, cfg, store, guildID)

		var idle time.Duration
		if set.IdleDisconnectSeconds > 0 {
			idle = time.Duration(set.IdleDisconnectSeconds) * time.Second
		}
		return player.Settings{
			Volume:         float64(config.ClampVolume(set.DefaultVolume)) / 100,
			IdleDisconnect: idle,
		}
	}
}
