package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("settings not found")

// NewRepo returns a settings repository. defaults seed the row of a guild
// the first time it is seen.
func NewRepo(db *sql.DB, defaults Settings) *Repo {
	return &Repo{db: db, defaults: defaults}
}

// UpsertSettings creates the guild's row from the defaults if needed and
// returns the stored settings.
func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	d := r.defaults
	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settings(
		  guild_id, default_volume, idle_disconnect_seconds,
		  playlist_limit, playlist_prefetch, announce_tracks
		) VALUES (?,?,?,?,?,?)`,
		guild, d.DefaultVolume, d.IdleDisconnectSeconds,
		d.PlaylistLimit, d.PlaylistPrefetch, boolToInt(d.AnnounceTracks),
	); err != nil {
		return nil, fmt.Errorf("insert settings: %w", err)
	}
	return r.GetSettings(ctx, guild)
}

func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, default_volume, idle_disconnect_seconds,
	       playlist_limit, playlist_prefetch, announce_tracks
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	var announce int
	if err := row.Scan(
		&s.GuildID,
		&s.DefaultVolume,
		&s.IdleDisconnectSeconds,
		&s.PlaylistLimit,
		&s.PlaylistPrefetch,
		&announce,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.AnnounceTracks = announce != 0
	return &s, nil
}

func (r *Repo) UpdateSettings(ctx context.Context, s *Settings) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE settings SET
		  default_volume=?,
		  idle_disconnect_seconds=?,
		  playlist_limit=?,
		  playlist_prefetch=?,
		  announce_tracks=?,
		  updated_at=strftime('%s', 'now')
		WHERE guild_id=?`,
		s.DefaultVolume, s.IdleDisconnectSeconds, s.PlaylistLimit,
		s.PlaylistPrefetch, boolToInt(s.AnnounceTracks), s.GuildID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
