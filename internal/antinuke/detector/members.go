package detector

import (
	"context"

	"discord-antinuke-bot/internal/antinuke/correlator"
	"discord-antinuke-bot/internal/antinuke/decision"
	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (d *Detector) OnMemberBan(ctx context.Context, e *discordgo.GuildBanAdd) {
	receivedAt := d.now()
	settings, ok := d.settings(ctx, e.GuildID)
	if !ok || !settings.Enabled(models.ActionBan) {
		return
	}

	attr, ok := d.attribute(ctx, correlator.Event{
		GuildID:     e.GuildID,
		Action:      models.ActionBan,
		AuditAction: discordgo.AuditLogActionMemberBanAdd,
		TargetID:    userID(e.User),
		ReceivedAt:  receivedAt,
	})
	if !ok {
		return
	}

	d.enforce(ctx, incident{
		guildID:  e.GuildID,
		action:   models.ActionBan,
		attr:     attr,
		settings: settings,
		reason:   ReasonBan,
		extras:   []eventlog.Field{{Name: "Banned User", Value: userName(e.User)}},
	})
}

// OnMemberUnban refunds one ban from the unbanning principal's counter.
func (d *Detector) OnMemberUnban(ctx context.Context, e *discordgo.GuildBanRemove) {
	receivedAt := d.now()
	settings, ok := d.settings(ctx, e.GuildID)
	if !ok || !settings.Enabled(models.ActionBan) {
		return
	}

	attr, ok := d.attribute(ctx, correlator.Event{
		GuildID:     e.GuildID,
		Action:      models.ActionBan,
		AuditAction: discordgo.AuditLogActionMemberBanRemove,
		TargetID:    userID(e.User),
		ReceivedAt:  receivedAt,
	})
	if !ok || d.Correlator.IsBot(attr.Principal.ID) {
		return
	}

	n, err := d.Counter.Decr(ctx, models.ActionBan, e.GuildID, attr.Principal.ID)
	if err != nil {
		d.logger.Warn("failed to refund ban counter", zap.String("guild_id", e.GuildID), zap.Error(err))
		return
	}
	d.logger.Debug("ban counter refunded",
		zap.String("guild_id", e.GuildID),
		zap.String("user_id", attr.Principal.ID),
		zap.Int64("count", n),
	)
}

// OnMemberRemove handles kicks; voluntary leaves fail correlation.
func (d *Detector) OnMemberRemove(ctx context.Context, e *discordgo.GuildMemberRemove) {
	if e.Member == nil || e.User == nil {
		return
	}
	receivedAt := d.now()
	settings, ok := d.settings(ctx, e.GuildID)
	if !ok || !settings.Enabled(models.ActionKick) {
		return
	}

	attr, ok := d.attribute(ctx, correlator.Event{
		GuildID:     e.GuildID,
		Action:      models.ActionKick,
		AuditAction: discordgo.AuditLogActionMemberKick,
		TargetID:    e.User.ID,
		ReceivedAt:  receivedAt,
	})
	if !ok {
		return
	}

	d.enforce(ctx, incident{
		guildID:  e.GuildID,
		action:   models.ActionKick,
		attr:     attr,
		settings: settings,
		reason:   ReasonKick,
		extras: []eventlog.Field{
			{Name: "User kicked", Value: userName(e.User)},
			{Name: "ID", Value: e.User.ID},
		},
	})
}

// OnMemberJoin kicks bots that join without a passport.
func (d *Detector) OnMemberJoin(ctx context.Context, e *discordgo.GuildMemberAdd) {
	if e.Member == nil || e.User == nil || !e.User.Bot {
		return
	}
	settings, ok := d.settings(ctx, e.GuildID)
	if !ok {
		return
	}

	dec, err := d.Decider.DecideBotJoin(ctx, settings, e.GuildID, e.User.ID, e.User.Bot)
	if err != nil {
		d.logger.Error("bot join decision failed", zap.String("guild_id", e.GuildID), zap.Error(err))
		return
	}
	if dec.Verdict != decision.Kick {
		return
	}

	rec := eventlog.Record{
		Action:    models.ActionBotAdd,
		Outcome:   eventlog.Success,
		User:      e.User,
		Timestamp: d.now(),
	}
	if err := d.Remediator.KickBot(ctx, e.GuildID, e.User.ID, ReasonBotJoin); err != nil {
		rec.Outcome = eventlog.Failed
		rec.Err = err
	}
	d.logger.Info("kicked bot without passport",
		zap.String("guild_id", e.GuildID),
		zap.String("bot_id", e.User.ID),
		zap.Stringer("outcome", rec.Outcome),
	)
	d.Log.Emit(ctx, settings, rec)
}

func userID(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func userName(u *discordgo.User) string {
	return eventlog.UserTag(u)
}
