package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tubequeue/internal/autocomplete"
	"github.com/sonroyaalmerol/tubequeue/internal/config"
	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/voice"
)

// Deps are the collaborators the bot wires into its sessions.
type Deps struct {
	Store       SettingsStore
	Resolver    player.Resolver
	Provisioner player.Provisioner
	Links       []player.LinkSource
	Suggester   *autocomplete.Suggester
}

type Bot struct {
	cfg  *config.Config
	deps Deps
	pm   *player.Manager
	cmd  *CommandHandler
	ctx  context.Context
}

func NewBot(cfg *config.Config, deps Deps) *Bot {
	return &Bot{cfg: cfg, deps: deps}
}

func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	b.ctx = ctx
	b.pm = player.NewManager(player.Options{
		Connector:   voice.NewConnector(dg),
		Provisioner: b.deps.Provisioner,
		Settings:    SessionSettings(b.cfg, b.deps.Store),
	})
	defer b.pm.CloseAll()
	b.cmd = NewCommandHandler(b.cfg, b.deps.Store, b.pm, b.deps.Resolver, b.deps.Links, b.deps.Suggester)

	notifier := NewNotifier(func(channelID, content string) error {
		_, err := dg.ChannelMessageSend(channelID, content)
		return err
	}, b.announces, b.cfg.ErrorChannelID, b.cfg.ErrorNotifyPerMinute)
	go notifier.Run(ctx, b.pm.Events(), b.pm.Errors())

	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onGuildCreate)
	dg.AddHandler(b.onInteraction)
	dg.AddHandler(b.onMessage)
	dg.AddHandler(b.onVoiceState)

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()
	slog.Info("shutting down", "sessions", b.pm.Len())
	return nil
}

func (b *Bot) announces(guildID string) bool {
	ctx, cancel := context.WithTimeout(b.ctx, settingsTimeout)
	defer cancel()
	return guildSettings(ctx, b.cfg, b.deps.Store, guildID).AnnounceTracks
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	slog.Info("connected", "user", s.State.User.Username)
	if b.cfg.BotActivity != "" {
		if err := s.UpdateListeningStatus(b.cfg.BotActivity); err != nil {
			slog.Warn("set activity", "err", err)
		}
	}
	appID := s.State.User.ID

	if b.cfg.RegisterCommandsOnBot {
		if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
			slog.Error("register global commands", "err", err)
		} else {
			slog.Info("registered global application commands")
		}
		return
	}

	var wg sync.WaitGroup
	for _, g := range s.State.Guilds {
		wg.Add(1)
		go func(guildID string) {
			defer wg.Done()
			if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
				slog.Error("register guild commands", "guild", guildID, "err", err)
			}
		}(g.ID)
	}
	wg.Wait()

	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
		slog.Error("clear global commands", "err", err)
	} else {
		slog.Info("cleared global application commands")
	}
	slog.Info("registered commands on all guilds")
}

// If registering per-guild, register on new guilds too
func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if b.cfg.RegisterCommandsOnBot {
		return
	}
	if err := b.cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
		slog.Error("register guild commands on join", "guild", g.ID, "err", err)
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.handleAutocomplete(s, i)
	default:
		slog.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
	}
}

func (b *Bot) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "play" {
		return
	}
	var query string
	for _, opt := range data.Options {
		if opt.Name == "query" || opt.Focused {
			query = opt.StringValue()
		}
	}

	ctx, cancel := context.WithTimeout(b.ctx, 2500*time.Millisecond)
	defer cancel()
	choices := b.cmd.Autocomplete(ctx, query)
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		slog.Debug("autocomplete respond failed", "guildID", i.GuildID, "err", err)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	req := interactionRequest(i)
	req.VoiceChannelID, _ = userInVoice(s, i.GuildID, req.UserID)

	// play may spend a while in yt-dlp, so acknowledge first
	if req.Command == "play" {
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		}); err != nil {
			slog.Warn("defer reply failed", "guildID", i.GuildID, "err", err)
			return
		}
		resp := b.cmd.Dispatch(b.ctx, req)
		edit := &discordgo.WebhookEdit{Content: &resp.Content}
		if resp.Embed != nil {
			edit.Embeds = &[]*discordgo.MessageEmbed{resp.Embed}
		}
		if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
			slog.Warn("edit reply failed", "guildID", i.GuildID, "err", err)
		}
		return
	}

	resp := b.cmd.Dispatch(b.ctx, req)
	data := &discordgo.InteractionResponseData{Content: resp.Content}
	if resp.Embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{resp.Embed}
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		slog.Warn("reply failed", "guildID", i.GuildID, "err", err)
	}
}

// interactionRequest flattens slash options into the same argument text a
// chat command would carry.
func interactionRequest(i *discordgo.InteractionCreate) Request {
	data := i.ApplicationCommandData()
	req := Request{
		GuildID:       i.GuildID,
		TextChannelID: i.ChannelID,
		UserID:        i.Member.User.ID,
		UserName:      i.Member.DisplayName(),
		Command:       data.Name,
	}
	opts := data.Options
	if len(opts) > 0 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		req.Args = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		v := optionText(o)
		if req.Args == "" {
			req.Args = v
		} else {
			req.Args += " " + v
		}
	}
	return req
}

func optionText(o *discordgo.ApplicationCommandInteractionDataOption) string {
	switch o.Type {
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(o.IntValue(), 10)
	case discordgo.ApplicationCommandOptionBoolean:
		return strconv.FormatBool(o.BoolValue())
	default:
		return o.StringValue()
	}
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID == "" || m.Author == nil || m.Author.Bot || s.State.User == nil {
		return
	}
	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			mentioned = true
			break
		}
	}
	cmd, args, ok := parseMessage(m.Content, b.cfg.CommandPrefix, mentioned)
	if !ok {
		return
	}

	req := Request{
		GuildID:       m.GuildID,
		TextChannelID: m.ChannelID,
		UserID:        m.Author.ID,
		UserName:      chatName(m),
		Command:       cmd,
		Args:          args,
		FromChat:      true,
	}
	req.VoiceChannelID, _ = userInVoice(s, m.GuildID, m.Author.ID)

	resp := b.cmd.Dispatch(b.ctx, req)
	send := &discordgo.MessageSend{
		Content:         resp.Content,
		Reference:       m.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if resp.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{resp.Embed}
	}
	if _, err := s.ChannelMessageSendComplex(m.ChannelID, send); err != nil {
		slog.Warn("reply failed", "guildID", m.GuildID, "channelID", m.ChannelID, "err", err)
	}
}

func chatName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// onVoiceState pauses for empty channels and drops the session when the bot
// is disconnected from outside.
func (b *Bot) onVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	sess := b.pm.Peek(vs.GuildID)
	if sess == nil {
		return
	}
	chID := sess.VoiceChannelID()
	if chID == "" {
		return
	}
	if s.State.User != nil && vs.UserID == s.State.User.ID && vs.ChannelID == "" {
		slog.Info("bot was disconnected from voice", "guildID", vs.GuildID)
		b.pm.Remove(vs.GuildID)
		return
	}
	sess.SetListeners(getNonBotSize(s, vs.GuildID, chID) > 0)
}

func getNonBotSize(s *discordgo.Session, guildID, channelID string) int {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			m, _ := s.State.Member(guildID, vs.UserID)
			if m != nil && m.User != nil && !m.User.Bot {
				n++
			}
		}
	}
	return n
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		g, _ = s.Guild(guildID)
	}
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}
