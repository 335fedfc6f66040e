package repository

import "database/sql"

type Repo struct {
	db       *sql.DB
	defaults Settings
}

// Settings are the per-guild overrides of the process configuration.
type Settings struct {
	GuildID               string
	DefaultVolume         int // percent, 0..200
	IdleDisconnectSeconds int // <= 0 never leaves
	PlaylistLimit         int // <= 0 unbounded
	PlaylistPrefetch      int
	AnnounceTracks        bool
}
