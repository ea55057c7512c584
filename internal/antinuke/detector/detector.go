// Package detector wires gateway events through correlation, decision,
// remediation and logging. Within one event the order is always
// correlate, decide, remediate, log.
package detector

import (
	"context"
	"errors"
	"sync"
	"time"

	"discord-antinuke-bot/internal/antinuke/core"
	"discord-antinuke-bot/internal/antinuke/correlator"
	"discord-antinuke-bot/internal/antinuke/decision"
	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/antinuke/platform"
	"discord-antinuke-bot/internal/antinuke/remediator"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"go.uber.org/zap"
)

// Ban and kick reasons
const (
	ReasonBan     = "Surpassed ban threshold"
	ReasonKick    = "Surpassed kick threshold"
	ReasonChannel = "Surpassed channel threshold"
	ReasonRole    = "Too many role deletions or adds"
	ReasonEmoji   = "Surpassed emoji threshold"
	ReasonBotJoin = "Bot did not have an active passport"
	ReasonWebhook = "Mention spam"
)

// EmojiEventTTL bounds emoji entry de-duplication.
const EmojiEventTTL = time.Hour

// Settings is the read side of the settings projection.
type Settings interface {
	Get(ctx context.Context, guildID string) (*models.GuildSettings, error)
}

type Deps struct {
	Platform   platform.Platform
	KV         *redis.Client
	Settings   Settings
	Correlator *correlator.Correlator
	Decider    *decision.Decider
	Remediator *remediator.Remediator
	Counter    *core.RateCounter
	Roles      *core.RoleCache
	Log        *eventlog.Emitter
	Logger     *zap.Logger
}

type Detector struct {
	Deps
	logger *zap.Logger
	now    func() time.Time

	// per-webhook try-locks
	hookLocks sync.Map
}

func New(deps Deps) *Detector {
	return &Detector{
		Deps:   deps,
		logger: deps.Logger.Named("detector"),
		now:    time.Now,
	}
}

// incident is one attributed destructive event on the threshold path.
type incident struct {
	guildID  string
	action   models.ActionKind
	attr     *correlator.Attribution
	settings *models.GuildSettings
	reason   string
	extras   []eventlog.Field
	// rollback undoes the event itself once the threshold is crossed.
	rollback func(ctx context.Context) error
}

func (d *Detector) settings(ctx context.Context, guildID string) (*models.GuildSettings, bool) {
	s, err := d.Settings.Get(ctx, guildID)
	if err != nil {
		d.logger.Error("failed to load settings", zap.String("guild_id", guildID), zap.Error(err))
		return nil, false
	}
	return s, true
}

// owner resolves the guild owner. Without it owner immunity cannot be
// enforced, so callers drop the event.
func (d *Detector) owner(ctx context.Context, guildID string) (string, bool) {
	ownerID, err := d.Platform.GuildOwnerID(ctx, guildID)
	if err != nil || ownerID == "" {
		d.logger.Warn("failed to resolve guild owner, dropping event", zap.String("guild_id", guildID), zap.Error(err))
		return "", false
	}
	return ownerID, true
}

// attribute runs the correlator and swallows misses.
func (d *Detector) attribute(ctx context.Context, ev correlator.Event) (*correlator.Attribution, bool) {
	attr, err := d.Correlator.Attribute(ctx, ev)
	if err != nil {
		if !errors.Is(err, correlator.ErrCorrelationMiss) {
			d.logger.Warn("audit correlation failed",
				zap.String("guild_id", ev.GuildID),
				zap.String("action", string(ev.Action)),
				zap.Error(err),
			)
		}
		return nil, false
	}
	return attr, true
}

// enforce runs decide, remediate and log for a threshold action.
func (d *Detector) enforce(ctx context.Context, inc incident) {
	principal := inc.attr.Principal
	ownerID, ok := d.owner(ctx, inc.guildID)
	if !ok {
		return
	}

	dec, err := d.Decider.Decide(ctx, decision.Input{
		GuildID:     inc.guildID,
		OwnerID:     ownerID,
		Action:      inc.action,
		PrincipalID: principal.ID,
		Settings:    inc.settings,
	})
	if err != nil {
		d.logger.Error("decision failed",
			zap.String("guild_id", inc.guildID),
			zap.String("action", string(inc.action)),
			zap.Error(err),
		)
		return
	}

	rec := eventlog.Record{
		Action:    inc.action,
		User:      principal,
		Extras:    inc.extras,
		Timestamp: inc.attr.Entry.CreatedAt,
	}

	switch dec.Verdict {
	case decision.Ignore:
		return
	case decision.LogWhitelisted:
		rec.Outcome = eventlog.Whitelisted
		d.Log.Emit(ctx, inc.settings, rec)
		return
	}

	d.logger.Warn("threshold surpassed",
		zap.String("guild_id", inc.guildID),
		zap.String("action", string(inc.action)),
		zap.String("user_id", principal.ID),
		zap.Int64("count", dec.Count),
		zap.Stringer("verdict", dec.Verdict),
	)

	var errs []error
	if dec.Verdict == decision.LogUnresolved {
		errs = append(errs, dec.Err)
	}
	if inc.rollback != nil {
		if err := inc.rollback(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if dec.Verdict == decision.Remediate {
		if err := d.Remediator.BanPrincipal(ctx, inc.action, inc.guildID, principal.ID, inc.reason); err != nil {
			errs = append(errs, err)
		}
	}

	rec.Outcome = eventlog.Success
	if err := errors.Join(errs...); err != nil {
		rec.Outcome = eventlog.Failed
		rec.Err = err
	}
	d.Log.Emit(ctx, inc.settings, rec)
}
