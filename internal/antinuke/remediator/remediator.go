// Package remediator performs the moderation side effects of a verdict.
// Every call is attempted once; remediation is not idempotent.
package remediator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"discord-antinuke-bot/internal/antinuke/decision"
	"discord-antinuke-bot/internal/antinuke/platform"
	"discord-antinuke-bot/internal/metrics"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrHierarchyBlocked  = decision.ErrHierarchyBlocked
	ErrOperatorProtected = errors.New("operator_protected")
	ErrAckTimeout        = errors.New("vanity ack timeout")
)

// AckTimeoutMessage is shown in the log embed when the vanity worker stays silent.
const AckTimeoutMessage = "Confirmation from the worker was never retrieved."

// Role reasons recorded in the audit log.
const (
	RoleRecreateReason = "Anti nuke role re-create"
	RoleReaddReason    = "Readding role after nuke deletion"
)

const (
	defaultAckTimeout  = 5 * time.Second
	defaultAckInterval = 100 * time.Millisecond
)

// Operators is the process-wide operator capability.
type Operators interface {
	IsOperator(userID string) bool
}

type Remediator struct {
	platform    platform.Platform
	kv          *redis.Client
	operators   Operators
	ackTimeout  time.Duration
	ackInterval time.Duration
	logger      *zap.Logger
}

func New(p platform.Platform, kv *redis.Client, operators Operators, logger *zap.Logger) *Remediator {
	return &Remediator{
		platform:    p,
		kv:          kv,
		operators:   operators,
		ackTimeout:  defaultAckTimeout,
		ackInterval: defaultAckInterval,
		logger:      logger.Named("remediator"),
	}
}

// SetAckTiming overrides the vanity acknowledgement budget.
func (r *Remediator) SetAckTiming(timeout, interval time.Duration) {
	r.ackTimeout = timeout
	r.ackInterval = interval
}

func record(action models.ActionKind, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	metrics.Remediations.WithLabelValues(string(action), outcome).Inc()
}

// BanPrincipal bans userID unless it is an operator or outranks the bot.
func (r *Remediator) BanPrincipal(ctx context.Context, action models.ActionKind, guildID, userID, reason string) (err error) {
	defer func() { record(action, err) }()

	if r.operators != nil && r.operators.IsOperator(userID) {
		return ErrOperatorProtected
	}
	ok, err := r.platform.CanModerate(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("check hierarchy: %w", err)
	}
	if !ok {
		return ErrHierarchyBlocked
	}
	if err := r.platform.Ban(ctx, guildID, userID, reason); err != nil {
		r.logger.Warn("ban failed",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return err
	}
	r.logger.Info("principal banned",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("action", string(action)),
	)
	return nil
}

// KickBot removes a bot that joined without a passport.
func (r *Remediator) KickBot(ctx context.Context, guildID, userID, reason string) (err error) {
	defer func() { record(models.ActionBotAdd, err) }()
	return r.platform.Kick(ctx, guildID, userID, reason)
}

// RecreateRole rebuilds a deleted role from its snapshot and re-adds the
// members still in the guild. Member re-adds are best effort.
func (r *Remediator) RecreateRole(ctx context.Context, guildID string, snap *models.RoleSnapshot) (*discordgo.Role, error) {
	color := snap.Color
	perms := snap.Permissions
	hoist := snap.Hoist
	mentionable := snap.Mentionable

	role, err := r.platform.CreateRole(ctx, guildID, &discordgo.RoleParams{
		Name:        snap.Name,
		Color:       &color,
		Hoist:       &hoist,
		Permissions: &perms,
		Mentionable: &mentionable,
	}, RoleRecreateReason)
	if err != nil {
		record(models.ActionRole, err)
		return nil, fmt.Errorf("create role: %w", err)
	}

	if err := r.platform.MoveRole(ctx, guildID, role.ID, snap.Position); err != nil {
		r.logger.Warn("move recreated role failed", zap.String("role_id", role.ID), zap.Error(err))
	}

	restored := 0
	for _, memberID := range snap.Members {
		present, err := r.platform.IsMember(ctx, guildID, memberID)
		if err != nil || !present {
			continue
		}
		if err := r.platform.AddMemberRole(ctx, guildID, memberID, role.ID, RoleReaddReason); err != nil {
			r.logger.Debug("re-add role failed", zap.String("user_id", memberID), zap.Error(err))
			continue
		}
		restored++
	}

	r.logger.Info("role recreated",
		zap.String("guild_id", guildID),
		zap.String("old_role_id", snap.ID),
		zap.String("role_id", role.ID),
		zap.Int("restored", restored),
		zap.Int("roster", len(snap.Members)),
	)
	record(models.ActionRole, nil)
	return role, nil
}

// DeleteChannel rolls back a channel created over the threshold.
func (r *Remediator) DeleteChannel(ctx context.Context, channelID, reason string) (err error) {
	defer func() { record(models.ActionChannel, err) }()
	return r.platform.DeleteChannel(ctx, channelID, reason)
}

// DeleteWebhook removes webhookID if it still exists in the guild.
func (r *Remediator) DeleteWebhook(ctx context.Context, guildID, webhookID, reason string) (err error) {
	defer func() { record(models.ActionWebhookMention, err) }()

	hooks, err := r.platform.GuildWebhooks(ctx, guildID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	for _, h := range hooks {
		if h != nil && h.ID == webhookID {
			return r.platform.DeleteWebhook(ctx, webhookID, reason)
		}
	}
	return platform.ErrNotFound
}

// ReclaimVanity asks the external worker to restore target and waits for its
// acknowledgement. ErrAckTimeout is returned when none arrives in time.
func (r *Remediator) ReclaimVanity(ctx context.Context, guildID, target, bad string) error {
	req := models.NewVanityReclaimRequest(guildID, target, bad, uuid.NewString(), uuid.NewString())
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := r.kv.Publish(ctx, redis.VanityEventsChannel, payload); err != nil {
		metrics.VanityAcks.WithLabelValues("publish_failed").Inc()
		return fmt.Errorf("publish vanity request: %w", err)
	}

	if err := r.awaitAck(ctx, req.ConfirmKey); err != nil {
		metrics.VanityAcks.WithLabelValues("timeout").Inc()
		return err
	}
	metrics.VanityAcks.WithLabelValues("confirmed").Inc()
	return nil
}

func (r *Remediator) awaitAck(ctx context.Context, confirmKey string) error {
	ctx, cancel := context.WithTimeout(ctx, r.ackTimeout)
	defer cancel()

	ticker := time.NewTicker(r.ackInterval)
	defer ticker.Stop()

	for {
		ok, err := r.kv.Exists(ctx, confirmKey)
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrAckTimeout
		case <-ticker.C:
		}
	}
}
