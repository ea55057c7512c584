// Package antinuke assembles the enforcement engine and subscribes it to the
// gateway.
package antinuke

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"discord-antinuke-bot/internal/antinuke/core"
	"discord-antinuke-bot/internal/antinuke/correlator"
	"discord-antinuke-bot/internal/antinuke/decision"
	"discord-antinuke-bot/internal/antinuke/detector"
	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/antinuke/platform"
	"discord-antinuke-bot/internal/antinuke/remediator"
	"discord-antinuke-bot/internal/metrics"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long Close waits for in-flight handlers.
const ShutdownTimeout = 5 * time.Second

type Options struct {
	Operators       models.IDSet
	SiblingBots     models.IDSet
	AuditRate       float64
	AuditBurst      int
	AuditMaxAge     time.Duration
	VanityClockSkew time.Duration
	// RequestMembers asks the gateway for full member lists so role rosters
	// can be snapshotted.
	RequestMembers bool
}

// Service is the engine plus its task registry. Every gateway event runs as
// a task; Close cancels them all.
type Service struct {
	session  *discordgo.Session
	settings *core.SettingsCache
	passport *core.PassportStore
	decider  *decision.Decider
	detector *detector.Detector
	opts     Options
	logger   *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	closed   bool
	group    *errgroup.Group
	removers []func()
}

func New(session *discordgo.Session, kv *redis.Client, settings *core.SettingsCache, opts Options, logger *zap.Logger) *Service {
	p := platform.NewDiscord(session)
	counter := core.NewRateCounter(kv)
	passports := core.NewPassportStore(kv)

	corr := correlator.New(p, kv, correlator.Config{
		SiblingBots:     opts.SiblingBots,
		RatePerSecond:   opts.AuditRate,
		Burst:           opts.AuditBurst,
		MaxAge:          opts.AuditMaxAge,
		VanityClockSkew: opts.VanityClockSkew,
	}, logger)
	dec := decision.New(p.BotUserID, opts.SiblingBots, opts.Operators, counter, passports).WithGuard(p)

	det := detector.New(detector.Deps{
		Platform:   p,
		KV:         kv,
		Settings:   settings,
		Correlator: corr,
		Decider:    dec,
		Remediator: remediator.New(p, kv, opts.Operators, logger),
		Counter:    counter,
		Roles:      core.NewRoleCache(kv),
		Log:        eventlog.New(p, logger),
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		session:  session,
		settings: settings,
		passport: passports,
		decider:  dec,
		detector: det,
		opts:     opts,
		logger:   logger.Named("antinuke"),
		ctx:      ctx,
		cancel:   cancel,
		group:    &errgroup.Group{},
	}
}

// Settings exposes the projection so commands can refresh it.
func (s *Service) Settings() *core.SettingsCache { return s.settings }

// Passports exposes the passport store for the passport command.
func (s *Service) Passports() *core.PassportStore { return s.passport }

// IsOperator reports whether userID is a process-wide operator.
func (s *Service) IsOperator(userID string) bool { return s.decider.IsOperator(userID) }

// Start subscribes to the gateway and warms settings for known guilds.
func (s *Service) Start() {
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildBanAdd) {
		s.spawn("ban_add", func(ctx context.Context) { s.detector.OnMemberBan(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildBanRemove) {
		s.spawn("ban_remove", func(ctx context.Context) { s.detector.OnMemberUnban(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
		s.spawn("member_remove", func(ctx context.Context) { s.detector.OnMemberRemove(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		s.spawn("member_add", func(ctx context.Context) { s.detector.OnMemberJoin(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
		s.spawn("member_update", func(ctx context.Context) { s.snapshotMemberRoles(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
		s.spawn("role_create", func(ctx context.Context) { s.detector.OnRoleCreate(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
		s.spawn("role_update", func(ctx context.Context) {
			if e.GuildRole != nil {
				s.detector.RefreshRoleSnapshot(ctx, e.GuildID, e.Role)
			}
		})
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
		s.spawn("role_delete", func(ctx context.Context) { s.detector.OnRoleDelete(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelCreate) {
		s.spawn("channel_create", func(ctx context.Context) { s.detector.OnChannelCreate(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelDelete) {
		s.spawn("channel_delete", func(ctx context.Context) { s.detector.OnChannelDelete(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildUpdate) {
		if e.Guild == nil {
			return
		}
		guildID := e.ID
		s.spawn("guild_update", func(ctx context.Context) { s.detector.OnGuildUpdate(ctx, guildID) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildEmojisUpdate) {
		s.spawn("emojis_update", func(ctx context.Context) { s.detector.OnEmojisUpdate(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		if e.Message == nil || e.WebhookID == "" {
			return
		}
		s.spawn("message_create", func(ctx context.Context) { s.detector.OnMessage(ctx, e) })
	}))
	s.on(s.session.AddHandler(func(sess *discordgo.Session, e *discordgo.GuildCreate) {
		if e.Guild == nil {
			return
		}
		guildID := e.ID
		s.spawn("guild_create", func(ctx context.Context) { s.onGuildCreate(ctx, sess, guildID) })
	}))
	s.on(s.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMembersChunk) {
		if e.ChunkIndex != e.ChunkCount-1 {
			return
		}
		guildID := e.GuildID
		s.spawn("members_chunk", func(ctx context.Context) { s.snapshotGuildRoles(ctx, guildID) })
	}))

	var guildIDs []string
	if s.session.State != nil {
		s.session.State.RLock()
		for _, g := range s.session.State.Guilds {
			guildIDs = append(guildIDs, g.ID)
		}
		s.session.State.RUnlock()
	}
	s.spawn("warm", func(ctx context.Context) { s.settings.Warm(ctx, guildIDs) })

	s.logger.Info("antinuke started", zap.Int("guilds", len(guildIDs)))
}

func (s *Service) on(remove func()) {
	s.removers = append(s.removers, remove)
}

// spawn runs fn as a registered task. Panics are logged and counted; they
// never take the subscription down.
func (s *Service) spawn(event string, fn func(ctx context.Context)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	s.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				metrics.HandlerPanics.WithLabelValues(event).Inc()
				s.logger.Error("handler panicked",
					zap.String("event", event),
					zap.String("panic", fmt.Sprint(r)),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		fn(s.ctx)
		return nil
	})
}

func (s *Service) onGuildCreate(ctx context.Context, sess *discordgo.Session, guildID string) {
	if _, err := s.settings.Get(ctx, guildID); err != nil {
		s.logger.Warn("failed to load settings", zap.String("guild_id", guildID), zap.Error(err))
	}
	if !s.opts.RequestMembers {
		s.snapshotGuildRoles(ctx, guildID)
		return
	}
	if err := sess.RequestGuildMembers(guildID, "", 0, "", false); err != nil {
		s.logger.Warn("failed to request guild members", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// snapshotGuildRoles snapshots every role of a guild from the state cache.
func (s *Service) snapshotGuildRoles(ctx context.Context, guildID string) {
	if s.session.State == nil {
		return
	}
	guild, err := s.session.State.Guild(guildID)
	if err != nil {
		return
	}

	s.session.State.RLock()
	roles := append([]*discordgo.Role(nil), guild.Roles...)
	s.session.State.RUnlock()

	for _, role := range roles {
		if ctx.Err() != nil {
			return
		}
		s.detector.RefreshRoleSnapshot(ctx, guildID, role)
	}
	s.logger.Debug("role snapshots refreshed", zap.String("guild_id", guildID), zap.Int("roles", len(roles)))
}

// snapshotMemberRoles refreshes snapshots of every role the member gained or lost.
func (s *Service) snapshotMemberRoles(ctx context.Context, e *discordgo.GuildMemberUpdate) {
	if e.Member == nil || s.session.State == nil {
		return
	}
	var before []string
	if e.BeforeUpdate != nil {
		before = e.BeforeUpdate.Roles
	}

	for _, roleID := range roleDiff(before, e.Roles) {
		role, err := s.session.State.Role(e.GuildID, roleID)
		if err != nil {
			continue
		}
		s.detector.RefreshRoleSnapshot(ctx, e.GuildID, role)
	}
}

// roleDiff returns the roles present in exactly one of before and after.
func roleDiff(before, after []string) []string {
	changed := make(map[string]struct{}, len(after))
	for _, id := range after {
		changed[id] = struct{}{}
	}
	for _, id := range before {
		if _, ok := changed[id]; ok {
			delete(changed, id)
		} else {
			changed[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(changed))
	for id := range changed {
		out = append(out, id)
	}
	return out
}

// Close cancels outstanding tasks and waits for them, bounded by ShutdownTimeout.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, remove := range s.removers {
		remove()
	}
	s.cancel()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	select {
	case err := <-done:
		s.logger.Info("antinuke stopped")
		return err
	case <-time.After(ShutdownTimeout):
		s.logger.Warn("antinuke tasks still running after shutdown timeout")
		return fmt.Errorf("antinuke: tasks did not finish within %s", ShutdownTimeout)
	}
}
