package detector

import (
	"context"
	"errors"
	"strconv"

	"discord-antinuke-bot/internal/antinuke/core"
	"discord-antinuke-bot/internal/antinuke/correlator"
	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// RefreshRoleSnapshot stores the role with its current roster so a later
// deletion can be undone.
func (d *Detector) RefreshRoleSnapshot(ctx context.Context, guildID string, role *discordgo.Role) {
	if role == nil || role.Managed {
		return
	}
	members, err := d.Platform.RoleMembers(ctx, guildID, role.ID)
	if err != nil {
		d.logger.Debug("role roster unavailable", zap.String("role_id", role.ID), zap.Error(err))
		return
	}
	if err := d.Roles.Store(ctx, core.SnapshotRole(role, members)); err != nil {
		d.logger.Warn("failed to store role snapshot", zap.String("role_id", role.ID), zap.Error(err))
	}
}

func (d *Detector) OnRoleCreate(ctx context.Context, e *discordgo.GuildRoleCreate) {
	if e.GuildRole == nil || e.Role == nil {
		return
	}
	receivedAt := d.now()
	d.RefreshRoleSnapshot(ctx, e.GuildID, e.Role)

	settings, ok := d.settings(ctx, e.GuildID)
	if !ok || !settings.Enabled(models.ActionRole) {
		return
	}

	attr, ok := d.attribute(ctx, correlator.Event{
		GuildID:     e.GuildID,
		Action:      models.ActionRole,
		AuditAction: discordgo.AuditLogActionRoleCreate,
		TargetID:    e.Role.ID,
		ReceivedAt:  receivedAt,
	})
	if !ok {
		return
	}
	d.logSurrogate(attr, e.GuildID, e.Role.ID)

	d.enforce(ctx, incident{
		guildID:  e.GuildID,
		action:   models.ActionRole,
		attr:     attr,
		settings: settings,
		reason:   ReasonRole,
		extras: []eventlog.Field{
			{Name: "Role", Value: e.Role.Name},
			{Name: "Action", Value: "Create"},
		},
	})
}

// OnRoleDelete bans over the threshold and rebuilds the role from its
// snapshot when one is still cached.
func (d *Detector) OnRoleDelete(ctx context.Context, e *discordgo.GuildRoleDelete) {
	receivedAt := d.now()
	snap, err := d.Roles.Load(ctx, e.RoleID)
	if err != nil && !errors.Is(err, core.ErrSnapshotMissing) {
		d.logger.Warn("failed to load role snapshot", zap.String("role_id", e.RoleID), zap.Error(err))
	}

	settings, ok := d.settings(ctx, e.GuildID)
	if !ok || !settings.Enabled(models.ActionRole) {
		return
	}

	attr, ok := d.attribute(ctx, correlator.Event{
		GuildID:     e.GuildID,
		Action:      models.ActionRole,
		AuditAction: discordgo.AuditLogActionRoleDelete,
		TargetID:    e.RoleID,
		ReceivedAt:  receivedAt,
	})
	if !ok {
		return
	}
	d.logSurrogate(attr, e.GuildID, e.RoleID)

	name, members, cached := e.RoleID, "Unknown", "Missing"
	var rollback func(ctx context.Context) error
	if snap != nil {
		name, members, cached = snap.Name, strconv.Itoa(len(snap.Members)), "Yes"
		rollback = func(ctx context.Context) error {
			_, err := d.Remediator.RecreateRole(ctx, e.GuildID, snap)
			return err
		}
	}

	d.enforce(ctx, incident{
		guildID:  e.GuildID,
		action:   models.ActionRole,
		attr:     attr,
		settings: settings,
		reason:   ReasonRole,
		extras: []eventlog.Field{
			{Name: "Role", Value: name},
			{Name: "Members", Value: members},
			{Name: "Action", Value: "Delete"},
			{Name: "Cached", Value: cached},
		},
		rollback: rollback,
	})
}

func (d *Detector) logSurrogate(attr *correlator.Attribution, guildID, roleID string) {
	if !attr.Surrogated {
		return
	}
	d.logger.Info("role change made through a bot command",
		zap.String("guild_id", guildID),
		zap.String("role_id", roleID),
		zap.String("user_id", attr.Principal.ID),
	)
}
