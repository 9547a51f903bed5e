package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/threadclaw/threadclaw/internal/router"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "status",
			Description: "Show this channel's project, branch and session state",
		},
		{
			Name:        "bind",
			Description: "Bind this channel to a project",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "project",
					Description: "Project name",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "branch",
					Description: "Pin a branch instead of inferring it from the channel name",
				},
			},
		},
		{
			Name:        "unbind",
			Description: "Remove this channel's project binding",
		},
		{
			Name:        "cancel",
			Description: "Cancel the running task in this thread",
		},
	}
}

func (b *Bot) registerCommands() error {
	for _, def := range commandDefinitions() {
		cmd, err := b.session.ApplicationCommandCreate(b.botUserID, b.cfg.GuildID, def)
		if err != nil {
			return fmt.Errorf("register /%s command: %w", def.Name, err)
		}
		b.mu.Lock()
		b.commands = append(b.commands, cmd)
		b.mu.Unlock()
	}
	slog.Info("slash commands registered", "count", len(b.commands), "guild_id", b.cfg.GuildID)
	return nil
}

func (b *Bot) unregisterCommands() {
	b.mu.Lock()
	cmds := b.commands
	b.commands = nil
	b.mu.Unlock()

	for _, cmd := range cmds {
		if err := b.session.ApplicationCommandDelete(b.botUserID, b.cfg.GuildID, cmd.ID); err != nil {
			slog.Debug("slash command cleanup failed", "command", cmd.Name, "error", err)
		}
	}
}

// handleInteraction dispatches slash commands to the router.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.Member != nil && i.Member.User != nil && !b.allowed(i.Member.User.ID) {
		b.respond(s, i, "You are not allowed to use this bot.")
		return
	}

	data := i.ApplicationCommandData()
	sc, err := b.resolveScope(i.ChannelID)
	if err != nil {
		slog.Warn("discord interaction channel lookup failed", "channel_id", i.ChannelID, "error", err)
		b.respond(s, i, "Could not resolve this channel.")
		return
	}

	cmdScope := router.CommandScope{
		ChannelID:    sc.ChannelID,
		ChannelName:  sc.ChannelName,
		CategoryName: sc.CategoryName,
		ThreadID:     sc.ThreadID,
	}

	var reply string
	switch data.Name {
	case "status":
		reply, err = b.router.Status(cmdScope)
	case "bind":
		var project, branch string
		for _, opt := range data.Options {
			switch opt.Name {
			case "project":
				project = opt.StringValue()
			case "branch":
				branch = opt.StringValue()
			}
		}
		reply, err = b.router.Bind(context.Background(), cmdScope, project, branch)
	case "unbind":
		reply, err = b.router.Unbind(cmdScope)
	case "cancel":
		reply, err = b.router.Cancel(cmdScope)
	default:
		return
	}

	if err != nil {
		slog.Info("slash command rejected", "command", data.Name, "channel_id", i.ChannelID, "error", err)
		reply = router.UserError(err)
	}
	b.respond(s, i, reply)
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		slog.Warn("interaction response failed", "error", err)
	}
}
