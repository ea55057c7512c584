package antinuke

import (
	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
)

var (
	// Permissions
	adminPerms = int64(discordgo.PermissionAdministrator)

	minThreshold = float64(0)

	// AntiNukeCmd is the single /antinuke command with one subcommand per setting.
	AntiNukeCmd = &discordgo.ApplicationCommand{
		Name:        "antinuke",
		Description: "Configure antinuke protection",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "log",
				Description: "Set the log channel for all antinuke actions, leave empty to clear",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "Channel to send alerts to",
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "passport",
				Description: "Let a bot join within the next 60 minutes without being kicked",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Bot or user to passport",
						Required:    true,
					},
				},
			},
			toggleCommand("webhook", "Delete webhooks that mass mention"),
			toggleCommand("botadd", "Kick bots that are added without a passport"),
			toggleCommand("vanity", "Revert vanity changes made by non trusted users"),
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "threshold",
				Description: "Number of actions allowed per hour, 0 disables",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "action",
						Description: "The action to limit",
						Required:    true,
						Choices:     thresholdChoices(),
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "count",
						Description: "Allowed actions before the user is banned",
						Required:    true,
						MinValue:    &minThreshold,
						MaxValue:    models.MaxThreshold,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "trust",
				Description: "Add or remove an antinuke admin",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Member to trust or untrust",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "settings",
				Description: "Display the server's antinuke settings",
			},
		},
		DefaultMemberPermissions: &adminPerms,
	}
)

func toggleCommand(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "enabled",
				Description: "Turn the protection on or off",
				Required:    true,
			},
		},
	}
}

func thresholdChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(models.ThresholdActions))
	for _, action := range models.ThresholdActions {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  action.LogActionType(),
			Value: string(action),
		})
	}
	return choices
}
