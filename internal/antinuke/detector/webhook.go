package detector

import (
	"context"
	"errors"
	"sync"

	"discord-antinuke-bot/internal/antinuke/decision"
	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/antinuke/platform"
	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// MassMentionMembers is the role size above which a role ping counts as a
// mass mention.
const MassMentionMembers = 100

// OnMessage deletes webhooks that mass mention. Only one handler may work on
// a given webhook at a time; contenders drop their event.
func (d *Detector) OnMessage(ctx context.Context, e *discordgo.MessageCreate) {
	m := e.Message
	if m == nil || m.GuildID == "" || m.WebhookID == "" {
		return
	}
	settings, ok := d.settings(ctx, m.GuildID)
	if !ok || !settings.Enabled(models.ActionWebhookMention) {
		return
	}
	if !d.isMassMention(ctx, m) {
		return
	}

	mu := d.hookLock(m.WebhookID)
	if !mu.TryLock() {
		return
	}
	defer d.releaseHook(m.WebhookID, mu)

	dec, err := d.Decider.Decide(ctx, decision.Input{
		GuildID:     m.GuildID,
		Action:      models.ActionWebhookMention,
		PrincipalID: m.WebhookID,
		Settings:    settings,
	})
	if err != nil || dec.Verdict != decision.Remediate {
		return
	}

	err = d.Remediator.DeleteWebhook(ctx, m.GuildID, m.WebhookID, ReasonWebhook)
	if errors.Is(err, platform.ErrNotFound) {
		// already gone
		return
	}

	rec := eventlog.Record{
		Action:  models.ActionWebhookMention,
		Outcome: eventlog.Success,
		User:    m.Author,
		Extras: []eventlog.Field{
			{Name: "webhook_id", Value: m.WebhookID},
			{Name: "content", Value: eventlog.Content(m.Content)},
			{Name: "channel", Value: "<#" + m.ChannelID + ">"},
		},
		Timestamp: m.Timestamp,
	}
	if err != nil {
		rec.Outcome = eventlog.Failed
		rec.Err = err
	}
	d.logger.Warn("webhook mass mention",
		zap.String("guild_id", m.GuildID),
		zap.String("webhook_id", m.WebhookID),
		zap.Stringer("outcome", rec.Outcome),
	)
	d.Log.Emit(ctx, settings, rec)
}

func (d *Detector) isMassMention(ctx context.Context, m *discordgo.Message) bool {
	if m.MentionEveryone {
		return true
	}
	for _, roleID := range m.MentionRoles {
		members, err := d.Platform.RoleMembers(ctx, m.GuildID, roleID)
		if err != nil {
			continue
		}
		if len(members) > MassMentionMembers {
			return true
		}
	}
	return false
}

func (d *Detector) hookLock(webhookID string) *sync.Mutex {
	mu, _ := d.hookLocks.LoadOrStore(webhookID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// releaseHook drops the lock entry while still holding it, so contenders that
// loaded it keep failing TryLock until the entry is gone.
func (d *Detector) releaseHook(webhookID string, mu *sync.Mutex) {
	d.hookLocks.CompareAndDelete(webhookID, mu)
	mu.Unlock()
}
