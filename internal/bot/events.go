package bot

import (
	"discord-antinuke-bot/internal/commands"
	"discord-antinuke-bot/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) Ready(s *discordgo.Session, r *discordgo.Ready) {
	b.Logger.Info("gateway ready",
		zap.String("user_id", r.User.ID),
		zap.Int("guilds", len(r.Guilds)),
	)
}

func (b *Bot) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Error("command panicked", zap.String("command", name), zap.Any("panic", r))
		}
	}()

	switch name {
	case "antinuke":
		b.Commands.HandleAntiNuke(s, i)
	case "ping":
		commands.HandlePing(s, i, b.DB, b.Redis)
	default:
		return
	}
	metrics.Commands.WithLabelValues(name).Inc()
}
