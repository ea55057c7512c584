package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"discord-antinuke-bot/internal/antinuke/correlator"
	"discord-antinuke-bot/internal/antinuke/decision"
	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/antinuke/remediator"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"go.uber.org/zap"
)

// VanityState tracks one guild-update through vanity protection.
type VanityState int

const (
	VanityIdle VanityState = iota
	VanityAwaitingAudit
	VanityAwaitingAck
	VanityDone
)

func (s VanityState) String() string {
	switch s {
	case VanityIdle:
		return "idle"
	case VanityAwaitingAudit:
		return "awaiting_audit"
	case VanityAwaitingAck:
		return "awaiting_ack"
	default:
		return "done"
	}
}

// OnGuildUpdate looks for a vanity change behind a guild update and, when a
// non-whitelisted principal made it, asks the worker to restore the old code
// and bans the principal. It returns the state it finished in.
func (d *Detector) OnGuildUpdate(ctx context.Context, guildID string) VanityState {
	receivedAt := d.now()
	settings, ok := d.settings(ctx, guildID)
	if !ok || !settings.Enabled(models.ActionVanity) {
		return VanityIdle
	}

	d.logger.Debug("vanity state", zap.String("guild_id", guildID), zap.Stringer("state", VanityAwaitingAudit))
	change, err := d.Correlator.AttributeVanity(ctx, guildID, receivedAt)
	switch {
	case errors.Is(err, correlator.ErrBotPrincipal):
		d.logger.Debug("vanity change by bot ignored", zap.String("guild_id", guildID))
		return VanityDone
	case errors.Is(err, correlator.ErrCorrelationMiss):
		d.logger.Warn("no vanity change detected", zap.String("guild_id", guildID))
		return VanityDone
	case err != nil:
		d.logger.Warn("vanity correlation failed", zap.String("guild_id", guildID), zap.Error(err))
		return VanityDone
	}

	principal := change.Principal
	eventKey := redis.VanityEventKey(guildID, principal.ID, change.Before, change.After, change.Entry.CreatedAt.Unix())
	seen, err := d.KV.Exists(ctx, eventKey)
	if err != nil {
		d.logger.Warn("vanity de-duplication failed", zap.String("guild_id", guildID), zap.Error(err))
		return VanityDone
	}
	if seen {
		d.logger.Warn("vanity event already handled", zap.String("guild_id", guildID))
		return VanityDone
	}
	if change.Before == change.After {
		return VanityDone
	}

	ownerID, ok := d.owner(ctx, guildID)
	if !ok {
		return VanityDone
	}
	if principal.ID == ownerID {
		d.logger.Info("ignoring vanity change made by owner", zap.String("guild_id", guildID))
		return VanityDone
	}

	claimed, err := d.KV.SetNX(ctx, eventKey, 1, 0)
	if err != nil || !claimed {
		return VanityDone
	}

	extras := []eventlog.Field{
		{Name: "Before", Value: change.Before},
		{Name: "After", Value: change.After},
	}
	rec := eventlog.Record{
		Action:    models.ActionVanity,
		User:      principal,
		Extras:    extras,
		Timestamp: change.Entry.CreatedAt,
	}

	dec, err := d.Decider.Decide(ctx, decision.Input{
		GuildID:     guildID,
		OwnerID:     ownerID,
		Action:      models.ActionVanity,
		PrincipalID: principal.ID,
		Settings:    settings,
	})
	if err != nil {
		d.logger.Error("vanity decision failed", zap.String("guild_id", guildID), zap.Error(err))
		// release the claim so a redelivered update is handled
		if err := d.KV.Del(ctx, eventKey); err != nil {
			d.logger.Warn("failed to release vanity claim", zap.String("guild_id", guildID), zap.Error(err))
		}
		return VanityDone
	}
	switch dec.Verdict {
	case decision.Ignore:
		return VanityDone
	case decision.LogWhitelisted:
		rec.Outcome = eventlog.Whitelisted
		d.Log.Emit(ctx, settings, rec)
		return VanityDone
	}

	d.logger.Warn("vanity changed by non trusted user",
		zap.String("guild_id", guildID),
		zap.String("user_id", principal.ID),
		zap.String("before", change.Before),
		zap.String("after", change.After),
	)

	d.logger.Debug("vanity state", zap.String("guild_id", guildID), zap.Stringer("state", VanityAwaitingAck))
	var errText []string
	if err := d.Remediator.ReclaimVanity(ctx, guildID, change.Before, change.After); err != nil {
		if errors.Is(err, remediator.ErrAckTimeout) {
			errText = append(errText, remediator.AckTimeoutMessage)
		} else {
			errText = append(errText, err.Error())
		}
	}

	switch dec.Verdict {
	case decision.Remediate:
		reason := fmt.Sprintf("Changed the vanity to %s", change.After)
		if err := d.Remediator.BanPrincipal(ctx, models.ActionVanity, guildID, principal.ID, reason); err != nil {
			errText = append(errText, err.Error())
		}
	case decision.LogUnresolved:
		errText = append(errText, dec.Err.Error())
	}

	rec.Outcome = eventlog.Success
	if len(errText) > 0 {
		rec.Outcome = eventlog.Failed
		rec.ErrText = joinErrors(errText)
	}
	d.Log.Emit(ctx, settings, rec)
	return VanityDone
}

func joinErrors(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = fmt.Sprintf("Error %d: %s", i+1, p)
	}
	return strings.Join(lines, "\n")
}
