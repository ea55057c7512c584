package antinuke

import (
	"context"
	"fmt"

	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
)

// handleThreshold sets how many actions of one kind are allowed per hour.
func (h *Handler) handleThreshold(ctx context.Context, inv invocation) (*discordgo.MessageEmbed, error) {
	actionOpt, ok := inv.Options["action"]
	if !ok {
		return CreateErrorEmbed("Missing Option", "action is required"), nil
	}
	action, ok := models.ParseActionKind(actionOpt.StringValue())
	if !ok {
		return CreateErrorEmbed("Invalid Action", "Unknown action "+actionOpt.StringValue()), nil
	}

	countOpt, ok := inv.Options["count"]
	if !ok {
		return CreateErrorEmbed("Missing Option", "count is required"), nil
	}
	count := int(countOpt.IntValue())
	if count < 0 || count > models.MaxThreshold {
		return CreateErrorEmbed("Invalid Threshold", fmt.Sprintf("The threshold must be between 0 and %d", models.MaxThreshold)), nil
	}

	if err := h.store.SetThreshold(ctx, inv.GuildID, action, count); err != nil {
		return nil, err
	}
	settings, err := h.refresh(ctx, inv.GuildID)
	if err != nil {
		return nil, err
	}

	embed := CreateSuccessEmbed("Threshold Updated", "")
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Action", Value: action.LogActionType(), Inline: true},
		{Name: "Threshold", Value: thresholdValue(settings.Threshold(action)), Inline: true},
		{Name: "Window", Value: "60 minutes", Inline: true},
	}
	return embed, nil
}
