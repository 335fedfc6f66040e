package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tubequeue/internal/autocomplete"
	"github.com/sonroyaalmerol/tubequeue/internal/config"
	"github.com/sonroyaalmerol/tubequeue/internal/errclass"
	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/repository"
	"github.com/sonroyaalmerol/tubequeue/internal/ui"
	"github.com/sonroyaalmerol/tubequeue/internal/utils"
)

// Request is one command invocation, from a slash command or a chat
// message.
type Request struct {
	GuildID        string
	TextChannelID  string
	UserID         string
	UserName       string
	VoiceChannelID string
	Command        string
	Args           string
	// FromChat is set for mention and prefix commands.
	FromChat bool
}

type Response struct {
	Content string
	Embed   *discordgo.MessageEmbed
}

func text(s string) Response { return Response{Content: s} }

type CommandHandler struct {
	cfg      *config.Config
	store    SettingsStore
	pm       *player.Manager
	resolver player.Resolver
	links    []player.LinkSource
	suggest  *autocomplete.Suggester
}

func NewCommandHandler(cfg *config.Config, store SettingsStore, pm *player.Manager, resolver player.Resolver, links []player.LinkSource, suggest *autocomplete.Suggester) *CommandHandler {
	return &CommandHandler{cfg: cfg, store: store, pm: pm, resolver: resolver, links: links, suggest: suggest}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	slog.Info("registering application commands", "appID", appID, "guildID", guildID)

	for _, c := range commandDefinitions() {
		if _, err := s.ApplicationCommandCreate(appID, guildID, c); err != nil {
			slog.Error("failed to create application command", "guildID", guildID, "command", c.Name, "err", err)
			return err
		}
		slog.Debug("registered command", "guildID", guildID, "command", c.Name)
	}

	slog.Info("finished registering commands", "guildID", guildID, "took", time.Since(start))
	return nil
}

func intOption(name, desc string, min, max float64) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name: name, Description: desc, Type: discordgo.ApplicationCommandOptionInteger,
		Required: true, MinValue: &min, MaxValue: max,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a YouTube URL, playlist, Spotify link or search",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "URL or search text", Type: discordgo.ApplicationCommandOptionString, Required: true, Autocomplete: true},
			},
		},
		{Name: "skip", Description: "Skip the current track"},
		{Name: "pause", Description: "Pause playback"},
		{Name: "resume", Description: "Resume playback"},
		{Name: "stop", Description: "Stop playback, clear the queue and leave"},
		{Name: "leave", Description: "Leave the voice channel"},
		{Name: "queue", Description: "Show the queue"},
		{Name: "now", Description: "Show the current track"},
		{
			Name:        "volume",
			Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				intOption("level", "percent, 0-200", 0, 200),
			},
		},
		{Name: "lasterror", Description: "Show the last playback error"},
		{
			Name:        "config",
			Description: "Configure per-server defaults",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "show settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-default-volume", Description: "volume new sessions start with",
					Options: []*discordgo.ApplicationCommandOption{intOption("level", "percent, 0-200", 0, 200)}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-idle-disconnect", Description: "seconds to wait on an empty queue before leaving",
					Options: []*discordgo.ApplicationCommandOption{intOption("seconds", "0 never leaves", 0, 86400)}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-playlist-limit", Description: "max tracks added from one playlist",
					Options: []*discordgo.ApplicationCommandOption{intOption("limit", "0 is unbounded", 0, 5000)}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-playlist-prefetch", Description: "playlist entries resolved before replying",
					Options: []*discordgo.ApplicationCommandOption{intOption("count", "1-50", 1, 50)}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-announce-tracks", Description: "announce each track as it starts",
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
					}},
			},
		},
	}
}

// Dispatch runs a command and returns the reply. It never fails: internal
// errors are logged and turned into a generic reply.
func (h *CommandHandler) Dispatch(ctx context.Context, req Request) Response {
	resp, err := h.dispatch(ctx, req)
	if err != nil {
		slog.Error("command failed", "guildID", req.GuildID, "userID", req.UserID, "command", req.Command, "err", err)
		return text("Something went wrong handling that command.")
	}
	return resp
}

func (h *CommandHandler) dispatch(ctx context.Context, req Request) (Response, error) {
	slog.Debug("command", "guildID", req.GuildID, "userID", req.UserID, "command", req.Command, "args", req.Args)

	switch req.Command {
	case "play":
		return h.cmdPlay(ctx, req), nil
	case "skip":
		return h.cmdSkip(req), nil
	case "pause":
		return h.cmdPause(req), nil
	case "resume":
		return h.cmdResume(req), nil
	case "stop", "leave":
		return h.cmdStop(req), nil
	case "queue":
		return h.cmdQueue(req), nil
	case "now":
		return h.cmdNow(req), nil
	case "volume":
		return h.cmdVolume(req), nil
	case "lasterror":
		return h.cmdLastError(req), nil
	case "config":
		return h.cmdConfig(ctx, req)
	}
	if req.FromChat {
		return text("Try `@Bot play <url>` or `/play <url>`."), nil
	}
	return text("Unknown command."), nil
}

func (h *CommandHandler) cmdPlay(ctx context.Context, req Request) Response {
	query := strings.TrimSpace(req.Args)
	if query == "" {
		return text("Provide a YouTube URL or search text.")
	}
	if req.VoiceChannelID == "" {
		return text("Join a voice channel first.")
	}

	set := guildSettings(ctx, h.cfg, h.store, req.GuildID)
	s, err := h.join(ctx, req)
	if err != nil {
		return text("Failed to join your voice channel.")
	}

	loader := player.NewLoader(player.LoaderOptions{
		Resolver: h.resolver,
		Links:    h.links,
		Limit:    set.PlaylistLimit,
		Prefetch: set.PlaylistPrefetch,
	})
	load, err := loader.Load(ctx, query)
	if err != nil {
		slog.Warn("resolve failed", "guildID", req.GuildID, "query", query, "err", err)
		msg := "Could not resolve that input."
		if hint := errclass.UserMessage(err, ""); hint != "" {
			msg += " " + hint
		}
		return text(msg)
	}
	if len(load.Tracks) == 0 {
		return text("No tracks found.")
	}

	if s.Enqueue(load.Tracks, req.UserName) == 0 {
		// the session went idle and left while the input resolved
		if s, err = h.join(ctx, req); err != nil {
			return text("Failed to join your voice channel.")
		}
		if s.Enqueue(load.Tracks, req.UserName) == 0 {
			return text("Could not queue the tracks. Try again.")
		}
	}

	var msg string
	if len(load.Tracks) == 1 {
		msg = fmt.Sprintf("Queued: **%s**", utils.EscapeMd(load.Tracks[0].Title))
	} else {
		msg = fmt.Sprintf("Queued %d tracks.", len(load.Tracks))
	}
	if load.Remainder != nil {
		loader.Continue(s, *load.Remainder, req.UserName)
		msg += " Loading the rest of the playlist in the background."
	}
	return text(msg)
}

// join returns the guild's session bound to the requester's voice channel.
// A session that fails its first connect is dropped.
func (h *CommandHandler) join(ctx context.Context, req Request) (*player.Session, error) {
	s := h.pm.GetOrCreate(req.GuildID)
	s.SetTextChannel(req.TextChannelID)
	if err := s.Connect(ctx, req.VoiceChannelID); err != nil {
		slog.Warn("voice connect failed", "guildID", req.GuildID, "channelID", req.VoiceChannelID, "err", err)
		if !s.Connected() {
			h.pm.Remove(req.GuildID)
		}
		return nil, err
	}
	return s, nil
}

// playing returns the guild's session when it has a current track.
func (h *CommandHandler) playing(guildID string) *player.Session {
	s := h.pm.Peek(guildID)
	if s == nil || s.Current() == nil {
		return nil
	}
	return s
}

func (h *CommandHandler) cmdSkip(req Request) Response {
	s := h.pm.Peek(req.GuildID)
	if s == nil || !s.Skip() {
		return text("Nothing is playing.")
	}
	return text("Skipped.")
}

func (h *CommandHandler) cmdPause(req Request) Response {
	s := h.playing(req.GuildID)
	if s == nil {
		return text("Nothing is playing.")
	}
	if s.Pause() {
		return text("Paused.")
	}
	return text("Already paused.")
}

func (h *CommandHandler) cmdResume(req Request) Response {
	s := h.playing(req.GuildID)
	if s == nil {
		return text("Nothing is playing.")
	}
	if s.Resume() {
		return text("Resumed.")
	}
	return text("Already playing.")
}

func (h *CommandHandler) cmdStop(req Request) Response {
	if !h.pm.Remove(req.GuildID) {
		return text("Nothing to stop.")
	}
	return text("Stopped and cleared the queue.")
}

func (h *CommandHandler) cmdQueue(req Request) Response {
	s := h.pm.Peek(req.GuildID)
	if s == nil {
		return text("Queue is empty.")
	}
	cur, queue := s.Current(), s.Queue()
	if cur == nil && len(queue) == 0 {
		return text("Queue is empty.")
	}
	return text(ui.QueueMessage(cur, queue))
}

func (h *CommandHandler) cmdNow(req Request) Response {
	s := h.playing(req.GuildID)
	if s == nil {
		return text("Nothing is playing.")
	}
	cur := s.Current()
	if cur == nil {
		return text("Nothing is playing.")
	}
	return Response{
		Content: fmt.Sprintf("Now playing: **%s**", ui.TrackLine(*cur, -1, true)),
		Embed:   ui.BuildPlayingEmbed(cur, s.Position(), s.Status()),
	}
}

func (h *CommandHandler) cmdVolume(req Request) Response {
	s := h.pm.Peek(req.GuildID)
	if s == nil {
		return text("Nothing is playing.")
	}
	arg := strings.TrimSuffix(strings.TrimSpace(req.Args), "%")
	if arg == "" {
		return text(fmt.Sprintf("Volume is %d%%.", percent(s.Volume())))
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return text("Volume must be a number between 0 and 200.")
	}
	v := s.SetVolume(n)
	return text(fmt.Sprintf("Volume set to %d%%.", percent(v)))
}

func percent(v float64) int { return int(v*100 + 0.5) }

func (h *CommandHandler) cmdLastError(req Request) Response {
	s := h.pm.Peek(req.GuildID)
	if s == nil {
		return text("No errors recorded.")
	}
	rec := s.LastError()
	if rec == nil {
		return text("No errors recorded.")
	}
	return text(ui.ErrorMessage(*rec))
}

func (h *CommandHandler) cmdConfig(ctx context.Context, req Request) (Response, error) {
	fields := strings.Fields(req.Args)
	sub := "get"
	if len(fields) > 0 {
		sub = strings.ToLower(fields[0])
	}

	if h.store == nil {
		return Response{}, fmt.Errorf("no settings store")
	}
	set, err := h.store.UpsertSettings(ctx, req.GuildID)
	if err != nil {
		return Response{}, fmt.Errorf("load settings: %w", err)
	}
	if sub == "get" {
		return text(settingsMessage(set)), nil
	}
	if len(fields) < 2 {
		return text("Missing value."), nil
	}
	value := fields[1]

	var reply string
	switch sub {
	case "set-default-volume":
		n, err := strconv.Atoi(value)
		if err != nil {
			return text("Invalid value."), nil
		}
		set.DefaultVolume = config.ClampVolume(n)
		reply = fmt.Sprintf("Default volume set to %d%%.", set.DefaultVolume)
	case "set-idle-disconnect":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return text("Invalid value."), nil
		}
		set.IdleDisconnectSeconds = n
		reply = "Idle disconnect updated."
	case "set-playlist-limit":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return text("Invalid value."), nil
		}
		set.PlaylistLimit = n
		reply = "Playlist limit updated."
	case "set-playlist-prefetch":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return text("Invalid value."), nil
		}
		set.PlaylistPrefetch = n
		reply = "Playlist prefetch updated."
	case "set-announce-tracks":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return text("Invalid value."), nil
		}
		set.AnnounceTracks = b
		reply = "Track announcements updated."
	default:
		return text("Unknown setting."), nil
	}

	if err := h.store.UpdateSettings(ctx, set); err != nil {
		return Response{}, fmt.Errorf("update settings: %w", err)
	}
	return text(reply + " New sessions pick it up."), nil
}

func settingsMessage(set *repository.Settings) string {
	idle := "never"
	if set.IdleDisconnectSeconds > 0 {
		idle = fmt.Sprintf("%ds", set.IdleDisconnectSeconds)
	}
	limit := "unbounded"
	if set.PlaylistLimit > 0 {
		limit = strconv.Itoa(set.PlaylistLimit)
	}
	return fmt.Sprintf("**Settings**\n- Default volume: %d%%\n- Leave after idle: %s\n- Playlist limit: %s\n- Playlist prefetch: %d\n- Announce tracks: %t",
		set.DefaultVolume, idle, limit, set.PlaylistPrefetch, set.AnnounceTracks)
}

// Autocomplete returns suggestions for the play query.
func (h *CommandHandler) Autocomplete(ctx context.Context, query string) []*discordgo.ApplicationCommandOptionChoice {
	if h.suggest == nil || strings.TrimSpace(query) == "" {
		return []*discordgo.ApplicationCommandOptionChoice{}
	}
	return h.suggest.Choices(ctx, query, 10)
}
