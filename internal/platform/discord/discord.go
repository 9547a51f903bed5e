// Package discord connects the adapter to the Discord gateway. Inbound
// messages become bus events; outbound traffic goes through the Bot as a
// platform.Messenger.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/threadclaw/threadclaw/internal/bus"
	"github.com/threadclaw/threadclaw/internal/config"
	"github.com/threadclaw/threadclaw/internal/router"
)

// Discord allows roughly 5 messages per 5 seconds per channel; the limiter
// stays under that across all channels.
const (
	sendRatePerSecond = 1
	sendBurst         = 5
)

// Bot is the Discord gateway connection. It publishes inbound messages to
// the bus, dispatches slash commands to the router, and implements
// platform.Messenger for outbound traffic.
type Bot struct {
	session   *discordgo.Session
	cfg       config.DiscordConfig
	bus       *bus.Bus
	router    *router.Router
	limiter   *rate.Limiter
	botUserID string

	mu       sync.Mutex
	channels map[string]*discordgo.Channel // channel metadata cache
	commands []*discordgo.ApplicationCommand
}

// New creates a Bot from config. Start must be called before use.
func New(cfg config.DiscordConfig, b *bus.Bus, r *router.Router) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return &Bot{
		session:  session,
		cfg:      cfg,
		bus:      b,
		router:   r,
		limiter:  rate.NewLimiter(rate.Limit(sendRatePerSecond), sendBurst),
		channels: make(map[string]*discordgo.Channel),
	}, nil
}

// Start opens the gateway connection, registers slash commands, and posts
// the startup notice.
func (b *Bot) Start(ctx context.Context) error {
	slog.Info("starting discord bot")

	b.session.AddHandler(b.handleMessageCreate)
	b.session.AddHandler(b.handleInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := b.session.User("@me")
	if err != nil {
		b.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	b.botUserID = user.ID

	if err := b.registerCommands(); err != nil {
		b.session.Close()
		return err
	}

	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	if b.cfg.AnnounceChannel != "" {
		if _, err := b.SendMessage(ctx, b.cfg.AnnounceChannel, "threadclaw is online."); err != nil {
			slog.Warn("startup notice failed", "channel_id", b.cfg.AnnounceChannel, "error", err)
		}
	}
	return nil
}

// Stop removes registered commands and closes the gateway connection.
func (b *Bot) Stop(context.Context) error {
	slog.Info("stopping discord bot")
	b.unregisterCommands()
	return b.session.Close()
}

// SendMessage posts content to a channel or thread.
func (b *Bot) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msg, err := b.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return "", fmt.Errorf("send discord message: %w", err)
	}
	return msg.ID, nil
}

// EditMessage replaces a previously sent message's content.
func (b *Bot) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.session.ChannelMessageEdit(channelID, messageID, content); err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}

// CreateThread starts a public thread on a channel message.
func (b *Bot) CreateThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}
	thread, err := b.session.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: 1440,
	})
	if err != nil {
		return "", fmt.Errorf("start discord thread: %w", err)
	}
	return thread.ID, nil
}

// React attaches an emoji to a message. Best effort.
func (b *Bot) React(_ context.Context, channelID, messageID, emoji string) {
	if err := b.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		slog.Debug("discord reaction failed",
			"channel_id", channelID, "message_id", messageID, "error", err)
	}
}

// handleMessageCreate turns a gateway message into a bus event.
func (b *Bot) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == b.botUserID || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		// DMs have no channel naming convention to map; ignore them.
		return
	}
	if !b.allowed(m.Author.ID) {
		slog.Debug("discord message rejected by allowlist",
			"user_id", m.Author.ID, "username", m.Author.Username)
		return
	}

	text := b.stripMentions(m)
	if strings.TrimSpace(text) == "" {
		return
	}

	scope, err := b.resolveScope(m.ChannelID)
	if err != nil {
		slog.Warn("discord channel lookup failed", "channel_id", m.ChannelID, "error", err)
		return
	}

	ev := bus.InboundEvent{
		ChannelID:    scope.ChannelID,
		ChannelName:  scope.ChannelName,
		CategoryName: scope.CategoryName,
		ThreadID:     scope.ThreadID,
		MessageID:    m.ID,
		AuthorID:     m.Author.ID,
		AuthorName:   m.Author.Username,
		Text:         text,
		IsThread:     scope.ThreadID != "",
		Metadata: map[string]string{
			"guild_id": m.GuildID,
		},
	}

	if !b.bus.PublishInbound(ev) {
		slog.Warn("inbound queue full, dropping message",
			"channel_id", m.ChannelID, "message_id", m.ID)
	}
}

// scope is where a message landed, with thread parentage resolved.
type scope struct {
	ChannelID    string
	ChannelName  string
	CategoryName string
	ThreadID     string // empty outside threads
}

// resolveScope maps a raw channel ID to channel, thread and category names.
// Thread messages arrive with the thread's ID as ChannelID; the parent
// channel carries the naming convention.
func (b *Bot) resolveScope(channelID string) (scope, error) {
	ch, err := b.channel(channelID)
	if err != nil {
		return scope{}, err
	}

	var s scope
	if ch.IsThread() {
		s.ThreadID = ch.ID
		parent, err := b.channel(ch.ParentID)
		if err != nil {
			return scope{}, fmt.Errorf("resolve thread parent: %w", err)
		}
		ch = parent
	}

	s.ChannelID = ch.ID
	s.ChannelName = ch.Name
	if ch.ParentID != "" {
		if cat, err := b.channel(ch.ParentID); err == nil && cat.Type == discordgo.ChannelTypeGuildCategory {
			s.CategoryName = cat.Name
		}
	}
	return s, nil
}

// channel returns channel metadata, preferring the gateway state cache over
// a REST call.
func (b *Bot) channel(id string) (*discordgo.Channel, error) {
	if ch, err := b.session.State.Channel(id); err == nil {
		return ch, nil
	}

	b.mu.Lock()
	cached, ok := b.channels[id]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	ch, err := b.session.Channel(id)
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", id, err)
	}
	b.mu.Lock()
	b.channels[id] = ch
	b.mu.Unlock()
	return ch, nil
}

// stripMentions removes bot @mentions from the message text. A branch
// override like "@feat/login" never parses as a mention, so it survives.
func (b *Bot) stripMentions(m *discordgo.MessageCreate) string {
	text := m.Content
	for _, u := range m.Mentions {
		if u.ID != b.botUserID {
			continue
		}
		text = strings.ReplaceAll(text, "<@"+u.ID+">", "")
		text = strings.ReplaceAll(text, "<@!"+u.ID+">", "")
	}
	return strings.TrimSpace(text)
}

func (b *Bot) allowed(userID string) bool {
	if len(b.cfg.AllowFrom) == 0 {
		return true
	}
	for _, id := range b.cfg.AllowFrom {
		if id == userID {
			return true
		}
	}
	return false
}
