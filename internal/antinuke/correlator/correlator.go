// Package correlator attributes gateway events to the principal recorded in
// the guild audit log.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"discord-antinuke-bot/internal/antinuke/platform"
	"discord-antinuke-bot/internal/metrics"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/bwmarrin/discordgo"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrCorrelationMiss means no audit entry could be attributed to the event.
	ErrCorrelationMiss = errors.New("no matching audit entry")
	// ErrBotPrincipal means the entry belongs to this bot or a sibling and
	// cannot be rewritten to a human.
	ErrBotPrincipal = errors.New("bot principal")
)

// PrincipalKind tags a Principal.
type PrincipalKind int

const (
	// Human is a principal acting directly.
	Human PrincipalKind = iota
	// BotSurrogate is a bot acting on behalf of a human recorded in a sidecar key.
	BotSurrogate
)

// Principal is the audit entry's author before sidecar resolution.
type Principal struct {
	Kind      PrincipalKind
	UserID    string
	LookupKey string
}

// Event describes the gateway event to correlate.
type Event struct {
	GuildID     string
	Action      models.ActionKind
	AuditAction discordgo.AuditLogAction
	// TargetID is the member, role or channel the event is about.
	TargetID   string
	ReceivedAt time.Time
}

// Attribution is the resolved principal plus the entry it came from.
type Attribution struct {
	Principal  *discordgo.User
	Entry      *platform.AuditEntry
	Surrogated bool
}

type Config struct {
	SiblingBots     models.IDSet
	RatePerSecond   float64
	Burst           int
	MaxAge          time.Duration
	VanityTimeout   time.Duration
	VanityInterval  time.Duration
	VanityClockSkew time.Duration
}

func (c *Config) setDefaults() {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.MaxAge <= 0 {
		c.MaxAge = time.Minute
	}
	if c.VanityTimeout <= 0 {
		c.VanityTimeout = 5 * time.Second
	}
	if c.VanityInterval <= 0 {
		c.VanityInterval = 80 * time.Millisecond
	}
}

type Correlator struct {
	platform platform.Platform
	kv       *redis.Client
	cfg      Config
	limiters sync.Map // guildID -> *rate.Limiter
	logger   *zap.Logger
}

func New(p platform.Platform, kv *redis.Client, cfg Config, logger *zap.Logger) *Correlator {
	cfg.setDefaults()
	return &Correlator{
		platform: p,
		kv:       kv,
		cfg:      cfg,
		logger:   logger.Named("correlator"),
	}
}

// IsBot reports whether userID is this bot or a sibling bot.
func (c *Correlator) IsBot(userID string) bool {
	return userID != "" && (userID == c.platform.BotUserID() || c.cfg.SiblingBots.Contains(userID))
}

func (c *Correlator) limiter(guildID string) *rate.Limiter {
	if l, ok := c.limiters.Load(guildID); ok {
		return l.(*rate.Limiter)
	}
	l, _ := c.limiters.LoadOrStore(guildID, rate.NewLimiter(rate.Limit(c.cfg.RatePerSecond), c.cfg.Burst))
	return l.(*rate.Limiter)
}

// latest fetches the newest entry for action under the per-guild throttle.
func (c *Correlator) latest(ctx context.Context, guildID string, action discordgo.AuditLogAction) (*platform.AuditEntry, error) {
	if err := c.limiter(guildID).Wait(ctx); err != nil {
		return nil, err
	}
	return c.platform.LatestAuditEntry(ctx, guildID, action)
}

func (c *Correlator) miss(action models.ActionKind, reason string, fields ...zap.Field) error {
	metrics.CorrelationMisses.WithLabelValues(string(action)).Inc()
	c.logger.Warn("audit correlation miss", append(fields, zap.String("action", string(action)), zap.String("reason", reason))...)
	return ErrCorrelationMiss
}

// Attribute finds the principal for a ban, kick, role or channel event.
func (c *Correlator) Attribute(ctx context.Context, ev Event) (*Attribution, error) {
	start := time.Now()
	defer func() {
		metrics.AuditLookup.WithLabelValues(string(ev.Action)).Observe(time.Since(start).Seconds())
	}()

	entry, err := c.latest(ctx, ev.GuildID, ev.AuditAction)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	if entry == nil {
		return nil, c.miss(ev.Action, "empty audit log", zap.String("guild_id", ev.GuildID))
	}
	if ev.AuditAction == discordgo.AuditLogActionMemberKick && entry.TargetID != ev.TargetID {
		// voluntary leave
		return nil, ErrCorrelationMiss
	}
	if age := ev.ReceivedAt.Sub(entry.CreatedAt); age > c.cfg.MaxAge {
		return nil, c.miss(ev.Action, "stale audit entry", zap.String("guild_id", ev.GuildID), zap.Duration("age", age))
	}

	principal := c.classify(entry, ev)
	user, err := c.resolve(ctx, principal, entry)
	if err != nil {
		return nil, c.miss(ev.Action, err.Error(), zap.String("guild_id", ev.GuildID), zap.String("entry_id", entry.ID))
	}

	return &Attribution{
		Principal:  user,
		Entry:      entry,
		Surrogated: principal.Kind == BotSurrogate,
	}, nil
}

// classify tags bot-authored role entries as surrogates for the human
// recorded by the command layer.
func (c *Correlator) classify(entry *platform.AuditEntry, ev Event) Principal {
	if !c.IsBot(entry.UserID) {
		return Principal{Kind: Human, UserID: entry.UserID}
	}
	switch ev.AuditAction {
	case discordgo.AuditLogActionRoleCreate:
		return Principal{Kind: BotSurrogate, UserID: entry.UserID, LookupKey: redis.RoleCreateSidecarKey(entry.TargetID)}
	case discordgo.AuditLogActionRoleDelete:
		return Principal{Kind: BotSurrogate, UserID: entry.UserID, LookupKey: redis.RoleDeleteSidecarKey(entry.TargetID)}
	default:
		return Principal{Kind: Human, UserID: entry.UserID}
	}
}

func (c *Correlator) resolve(ctx context.Context, p Principal, entry *platform.AuditEntry) (*discordgo.User, error) {
	userID := p.UserID
	if p.Kind == BotSurrogate {
		raw, ok, err := c.kv.GetBytes(ctx, p.LookupKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("sidecar %s absent", p.LookupKey)
		}
		userID = string(raw)
		if gjson.ValidBytes(raw) {
			userID = gjson.ParseBytes(raw).String()
		}
		if userID == "" {
			return nil, fmt.Errorf("sidecar %s unreadable", p.LookupKey)
		}
	} else if entry.User != nil && entry.User.ID == userID {
		return entry.User, nil
	}
	return c.platform.User(ctx, userID)
}

// VanityChange is a vanity_url_code diff attributed to a principal.
type VanityChange struct {
	Principal *discordgo.User
	Before    string
	After     string
	Entry     *platform.AuditEntry
}

// AttributeVanity polls GUILD_UPDATE until an entry no older than the
// reference time carries a vanity change, or the timeout elapses.
func (c *Correlator) AttributeVanity(ctx context.Context, guildID string, receivedAt time.Time) (*VanityChange, error) {
	start := time.Now()
	defer func() {
		metrics.AuditLookup.WithLabelValues(string(models.ActionVanity)).Observe(time.Since(start).Seconds())
	}()

	ref := receivedAt.Add(-c.cfg.VanityClockSkew)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.VanityTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.VanityInterval)
	defer ticker.Stop()

	for {
		change, err := c.pollVanity(ctx, guildID, ref)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if change != nil {
			return change, nil
		}

		select {
		case <-ctx.Done():
			return nil, c.miss(models.ActionVanity, "no vanity change within timeout", zap.String("guild_id", guildID))
		case <-ticker.C:
		}
	}
}

// pollVanity returns (nil, nil) when the poll should continue.
func (c *Correlator) pollVanity(ctx context.Context, guildID string, ref time.Time) (*VanityChange, error) {
	entry, err := c.latest(ctx, guildID, discordgo.AuditLogActionGuildUpdate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("guild update audit fetch failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil, nil
	}
	if entry == nil || entry.CreatedAt.Before(ref) {
		return nil, nil
	}
	if c.IsBot(entry.UserID) {
		return nil, ErrBotPrincipal
	}

	suppressed, err := c.kv.Exists(ctx, redis.VanitySuppressionKey(entry.UserID))
	if err != nil {
		return nil, fmt.Errorf("vanity suppression lookup: %w", err)
	}
	if suppressed {
		return nil, nil
	}

	before, after, ok := entry.Change(discordgo.AuditLogChangeKeyVanityURLCode)
	if !ok {
		return nil, nil
	}

	user, err := c.resolve(ctx, Principal{Kind: Human, UserID: entry.UserID}, entry)
	if err != nil {
		return nil, fmt.Errorf("resolve vanity principal: %w", err)
	}
	return &VanityChange{Principal: user, Before: before, After: after, Entry: entry}, nil
}

// AttributeEmoji picks the freshest emoji create/delete entry consistent with
// the guild's current emoji list.
func (c *Correlator) AttributeEmoji(ctx context.Context, guildID string, current []string, receivedAt time.Time) (*Attribution, error) {
	present := models.NewIDSet(current...)

	var best *platform.AuditEntry
	for _, action := range []discordgo.AuditLogAction{discordgo.AuditLogActionEmojiCreate, discordgo.AuditLogActionEmojiDelete} {
		entry, err := c.latest(ctx, guildID, action)
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
		if entry == nil || receivedAt.Sub(entry.CreatedAt) > c.cfg.MaxAge {
			continue
		}
		// a create must still be listed, a delete must be gone
		if (action == discordgo.AuditLogActionEmojiCreate) != present.Contains(entry.TargetID) {
			continue
		}
		if best == nil || entry.CreatedAt.After(best.CreatedAt) {
			best = entry
		}
	}
	if best == nil {
		return nil, c.miss(models.ActionEmoji, "no fresh emoji entry", zap.String("guild_id", guildID))
	}

	user, err := c.resolve(ctx, Principal{Kind: Human, UserID: best.UserID}, best)
	if err != nil {
		return nil, c.miss(models.ActionEmoji, err.Error(), zap.String("guild_id", guildID))
	}
	return &Attribution{Principal: user, Entry: best}, nil
}
