package antinuke

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// handleTrust adds the user as a trusted admin, or removes them if they
// already are one.
func (h *Handler) handleTrust(ctx context.Context, inv invocation) (*discordgo.MessageEmbed, error) {
	target := inv.user("user")
	if target == nil {
		return CreateErrorEmbed("Invalid User", "Could not find the specified user"), nil
	}
	if target.Bot {
		return CreateErrorEmbed("Invalid User", "Bots cannot be trusted admins"), nil
	}

	trusted, err := h.store.ToggleTrustedAdmin(ctx, inv.GuildID, target.ID, inv.CallerID)
	if err != nil {
		return nil, err
	}
	if _, err := h.refresh(ctx, inv.GuildID); err != nil {
		return nil, err
	}

	if trusted {
		return CreateSuccessEmbed("Trusted Admin Added", fmt.Sprintf("%s is now a trusted admin", userLabel(target))), nil
	}
	return CreateSuccessEmbed("Trusted Admin Removed", fmt.Sprintf("%s is no longer a trusted admin", userLabel(target))), nil
}

// handleSettings prunes trusted admins that left the guild, then renders
// the current settings.
func (h *Handler) handleSettings(ctx context.Context, inv invocation) (*discordgo.MessageEmbed, error) {
	if err := h.removeLeftAdmins(ctx, inv.GuildID); err != nil {
		return nil, err
	}
	settings, err := h.refresh(ctx, inv.GuildID)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(settings.TrustedAdmins))
	for _, id := range settings.TrustedAdmins {
		if u, err := h.guilds.User(ctx, id); err == nil {
			names[id] = userLabel(u)
		}
	}
	return CreateSettingsEmbed(settings, names), nil
}

func (h *Handler) removeLeftAdmins(ctx context.Context, guildID string) error {
	settings, err := h.settings.Get(ctx, guildID)
	if err != nil {
		return err
	}

	var left []string
	for _, id := range settings.TrustedAdmins {
		member, err := h.guilds.IsMember(ctx, guildID, id)
		if err != nil {
			h.logger.Warn("membership check failed", zap.String("guild_id", guildID), zap.String("user_id", id), zap.Error(err))
			continue
		}
		if !member {
			left = append(left, id)
		}
	}
	if len(left) == 0 {
		return nil
	}

	h.logger.Info("removing trusted admins that left", zap.String("guild_id", guildID), zap.Strings("user_ids", left))
	return h.store.RemoveTrustedAdmins(ctx, guildID, left)
}
