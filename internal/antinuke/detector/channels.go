package detector

import (
	"context"

	"discord-antinuke-bot/internal/antinuke/correlator"
	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (d *Detector) OnChannelCreate(ctx context.Context, e *discordgo.ChannelCreate) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	ch := e.Channel
	d.onChannel(ctx, ch, discordgo.AuditLogActionChannelCreate, func(ctx context.Context) error {
		return d.Remediator.DeleteChannel(ctx, ch.ID, ReasonChannel)
	})
}

func (d *Detector) OnChannelDelete(ctx context.Context, e *discordgo.ChannelDelete) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	d.onChannel(ctx, e.Channel, discordgo.AuditLogActionChannelDelete, nil)
}

func (d *Detector) onChannel(ctx context.Context, ch *discordgo.Channel, action discordgo.AuditLogAction, rollback func(context.Context) error) {
	receivedAt := d.now()
	settings, ok := d.settings(ctx, ch.GuildID)
	if !ok || !settings.Enabled(models.ActionChannel) {
		return
	}

	attr, ok := d.attribute(ctx, correlator.Event{
		GuildID:     ch.GuildID,
		Action:      models.ActionChannel,
		AuditAction: action,
		TargetID:    ch.ID,
		ReceivedAt:  receivedAt,
	})
	if !ok {
		return
	}

	d.enforce(ctx, incident{
		guildID:  ch.GuildID,
		action:   models.ActionChannel,
		attr:     attr,
		settings: settings,
		reason:   ReasonChannel,
		extras: []eventlog.Field{
			{Name: "Channel Name", Value: ch.Name},
			{Name: "Channel ID", Value: ch.ID},
		},
		rollback: rollback,
	})
}

// OnEmojisUpdate attributes an emoji list change to the freshest matching
// create or delete entry. Each audit entry is enforced once.
func (d *Detector) OnEmojisUpdate(ctx context.Context, e *discordgo.GuildEmojisUpdate) {
	receivedAt := d.now()
	settings, ok := d.settings(ctx, e.GuildID)
	if !ok || !settings.Enabled(models.ActionEmoji) {
		return
	}

	current := make([]string, 0, len(e.Emojis))
	for _, em := range e.Emojis {
		if em != nil {
			current = append(current, em.ID)
		}
	}

	attr, err := d.Correlator.AttributeEmoji(ctx, e.GuildID, current, receivedAt)
	if err != nil {
		return
	}

	fresh, err := d.KV.SetNX(ctx, redis.EmojiEventKey(attr.Entry.ID), 1, EmojiEventTTL)
	if err != nil {
		d.logger.Warn("emoji de-duplication failed", zap.String("guild_id", e.GuildID), zap.Error(err))
		return
	}
	if !fresh {
		return
	}

	verb := "Create"
	if attr.Entry.Action == discordgo.AuditLogActionEmojiDelete {
		verb = "Delete"
	}
	d.enforce(ctx, incident{
		guildID:  e.GuildID,
		action:   models.ActionEmoji,
		attr:     attr,
		settings: settings,
		reason:   ReasonEmoji,
		extras: []eventlog.Field{
			{Name: "Emoji ID", Value: attr.Entry.TargetID},
			{Name: "Action", Value: verb},
		},
	})
}
