package antinuke

import (
	"context"
	"fmt"

	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
)

// handleToggle switches one of the boolean protections.
func (h *Handler) handleToggle(ctx context.Context, inv invocation, action models.ActionKind, label string) (*discordgo.MessageEmbed, error) {
	opt, ok := inv.Options["enabled"]
	if !ok {
		return CreateErrorEmbed("Missing Option", "enabled is required"), nil
	}
	enabled := opt.BoolValue()

	if err := h.store.SetProtection(ctx, inv.GuildID, action, enabled); err != nil {
		return nil, err
	}
	settings, err := h.refresh(ctx, inv.GuildID)
	if err != nil {
		return nil, err
	}

	state := "disabled"
	if settings.Enabled(action) {
		state = "enabled"
	}
	return CreateSuccessEmbed(
		fmt.Sprintf("%s Updated", label),
		fmt.Sprintf("%s is now **%s**", label, state),
	), nil
}
