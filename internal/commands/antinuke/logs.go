package antinuke

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// handleLog sets the log channel, or clears it when no channel is given.
func (h *Handler) handleLog(ctx context.Context, inv invocation) (*discordgo.MessageEmbed, error) {
	channelID := ""
	if opt, ok := inv.Options["channel"]; ok {
		channelID = opt.ChannelValue(nil).ID
	}

	if err := h.store.SetLogChannel(ctx, inv.GuildID, channelID); err != nil {
		return nil, err
	}
	if _, err := h.refresh(ctx, inv.GuildID); err != nil {
		return nil, err
	}

	if channelID == "" {
		return CreateSuccessEmbed("Logs Channel Cleared", "AntiNuke logs will no longer be sent"), nil
	}
	return CreateSuccessEmbed(
		"Logs Channel Configured",
		fmt.Sprintf("I've set the log channel to <#%s>", channelID),
	), nil
}

// handlePassport lets a bot join without being kicked for the passport lifetime.
func (h *Handler) handlePassport(ctx context.Context, inv invocation) (*discordgo.MessageEmbed, error) {
	target := inv.user("user")
	if target == nil {
		return CreateErrorEmbed("Invalid User", "Could not find the specified user"), nil
	}
	if _, err := h.passports.Issue(ctx, inv.GuildID, target.ID, inv.CallerID); err != nil {
		return nil, err
	}
	return CreateSuccessEmbed(
		"Passport Issued",
		fmt.Sprintf("%s has a passport valid for 60 minutes", userLabel(target)),
	), nil
}
